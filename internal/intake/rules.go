package intake

import (
	"civiclens-service/internal/domain/report"
	"civiclens-service/internal/utils"
)

// forbiddenLabels are detector classes denoting people, animals, or
// personal/indoor objects. A high-score hit on any of these rejects the image
// outright: the photo is not of a civic hazard.
var forbiddenLabels = map[string]struct{}{
	// living beings
	"person": {}, "cat": {}, "dog": {}, "bird": {}, "horse": {}, "sheep": {},
	"cow": {}, "elephant": {}, "bear": {}, "zebra": {}, "giraffe": {},
	// indoor and personal items
	"backpack": {}, "umbrella": {}, "handbag": {}, "tie": {}, "suitcase": {},
	"bed": {}, "dining table": {}, "toilet": {}, "tv": {}, "laptop": {},
	"mouse": {}, "remote": {}, "keyboard": {}, "cell phone": {},
	"microwave": {}, "oven": {}, "toaster": {}, "sink": {}, "refrigerator": {},
	"book": {}, "clock": {}, "vase": {}, "scissors": {}, "teddy bear": {},
	"hair drier": {}, "toothbrush": {},
	// sports
	"frisbee": {}, "skis": {}, "snowboard": {}, "sports ball": {}, "kite": {},
	"baseball bat": {}, "baseball glove": {}, "skateboard": {}, "surfboard": {},
	"tennis racket": {},
	// furniture
	"chair": {}, "couch": {}, "potted plant": {},
}

// categoryKeywords maps a category to the labels that imply it. Order of
// evaluation is fixed: Waste is checked before Road. Water has no positive
// keyword set and is reachable only through the configured default.
var categoryKeywords = []struct {
	category report.Category
	labels   map[string]struct{}
}{
	{
		category: report.CategoryWaste,
		labels: map[string]struct{}{
			"bottle": {}, "cup": {}, "bowl": {}, "banana": {}, "apple": {},
			"sandwich": {}, "orange": {}, "broccoli": {}, "carrot": {},
			"hot dog": {}, "pizza": {}, "donut": {}, "cake": {},
		},
	},
	{
		category: report.CategoryRoad,
		labels: map[string]struct{}{
			"car": {}, "bus": {}, "truck": {}, "motorcycle": {},
			"traffic light": {}, "stop sign": {},
		},
	},
}

func isForbidden(label string) bool {
	_, ok := forbiddenLabels[utils.NormalizeLabel(label)]
	return ok
}

// inferCategory scans detections through the keyword table in fixed order and
// falls back to the configured default when nothing matches. It also returns
// the best score among the detections that drove the decision.
func inferCategory(detections []report.Detection, fallback report.Category) (report.Category, float64) {
	for _, entry := range categoryKeywords {
		best := -1.0
		for _, d := range detections {
			if _, ok := entry.labels[utils.NormalizeLabel(d.Label)]; ok && d.Score > best {
				best = d.Score
			}
		}
		if best >= 0 {
			return entry.category, best
		}
	}

	best := 0.0
	for _, d := range detections {
		if d.Score > best {
			best = d.Score
		}
	}
	return fallback, best
}
