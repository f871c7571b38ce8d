// Package labels reads and writes the normalized YOLO pose label format:
//
//	class xc yc w h [kx ky v]*N
//
// one line per box, coordinates divided by the image size, keypoint slots in
// ascending class order.
package labels

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/geometry"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// emptySlot is written for keypoint classes the box has no keypoint for.
const emptySlot = " 0.000000 0.000000 0"

// Encode serializes boxes for an imgW x imgH image with numKeypointClasses
// keypoint slots per line. Keypoints are indexed by class id, so with
// duplicate class ids the last one wins; classes >= numKeypointClasses are
// not written. The output is deterministic.
func Encode(boxes []annotation.Box, imgW, imgH, numKeypointClasses int) ([]byte, error) {
	if imgW <= 0 || imgH <= 0 {
		return nil, types.InvalidInputf("image size %dx%d", imgW, imgH)
	}
	if numKeypointClasses < 0 {
		return nil, types.InvalidInputf("keypoint class count %d is negative", numKeypointClasses)
	}

	var buf bytes.Buffer
	for _, b := range boxes {
		xc := geometry.Normalize((b.X1+b.X2)/2, imgW)
		yc := geometry.Normalize((b.Y1+b.Y2)/2, imgH)
		w := geometry.Normalize(b.X2-b.X1, imgW)
		h := geometry.Normalize(b.Y2-b.Y1, imgH)
		fmt.Fprintf(&buf, "%d %.6f %.6f %.6f %.6f", b.ClassID, xc, yc, w, h)

		if numKeypointClasses > 0 {
			byClass := b.KeypointsByClass()
			for k := 0; k < numKeypointClasses; k++ {
				kp, ok := byClass[k]
				if !ok {
					buf.WriteString(emptySlot)
					continue
				}
				v := 0
				if kp.Visible {
					v = 1
				}
				fmt.Fprintf(&buf, " %.6f %.6f %d", geometry.Normalize(kp.X, imgW), geometry.Normalize(kp.Y, imgH), v)
			}
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode parses label data back into image-pixel boxes. A keypoint slot with
// zero coordinates and v = 0 is an empty slot and yields no keypoint. When
// numKeypointClasses is negative the slot count is inferred from each line.
// Blank lines are skipped.
func Decode(data []byte, imgW, imgH, numKeypointClasses int) ([]annotation.Box, error) {
	if imgW <= 0 || imgH <= 0 {
		return nil, types.InvalidInputf("image size %dx%d", imgW, imgH)
	}

	var boxes []annotation.Box
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b, err := parseLine(line, imgW, imgH, numKeypointClasses)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		boxes = append(boxes, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return boxes, nil
}

func parseLine(line string, imgW, imgH, numKeypointClasses int) (annotation.Box, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 5 || (len(tokens)-5)%3 != 0 {
		return annotation.Box{}, types.InvalidInputf("malformed label %q", line)
	}
	n := (len(tokens) - 5) / 3
	if numKeypointClasses >= 0 && n != numKeypointClasses {
		return annotation.Box{}, types.InvalidInputf("expected %d keypoint slots, got %d", numKeypointClasses, n)
	}

	classID, err := strconv.Atoi(tokens[0])
	if err != nil || classID < 0 {
		return annotation.Box{}, types.InvalidInputf("bad class id %q", tokens[0])
	}

	vals := make([]float64, len(tokens)-1)
	for i, tok := range tokens[1:] {
		vals[i], err = strconv.ParseFloat(tok, 64)
		if err != nil {
			return annotation.Box{}, types.InvalidInputf("unexpected value %q", tok)
		}
	}

	xc, yc := geometry.Denormalize(vals[0], imgW), geometry.Denormalize(vals[1], imgH)
	w, h := geometry.Denormalize(vals[2], imgW), geometry.Denormalize(vals[3], imgH)
	b := annotation.Box{
		ClassID: classID,
		X1:      xc - w/2,
		Y1:      yc - h/2,
		X2:      xc + w/2,
		Y2:      yc + h/2,
	}

	for k := 0; k < n; k++ {
		kx, ky, v := vals[4+3*k], vals[5+3*k], vals[6+3*k]
		if v == 0 && kx == 0 && ky == 0 {
			continue
		}
		b.Keypoints = append(b.Keypoints, annotation.Keypoint{
			ClassID: k,
			X:       geometry.Denormalize(kx, imgW),
			Y:       geometry.Denormalize(ky, imgH),
			Visible: v > 0,
		})
	}
	return b, nil
}
