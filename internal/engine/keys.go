package engine

import (
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/config"
)

// KeysFromConfig expands the configured thresholds into their cross product,
// IoU-major, and appends the default key when the product lacks it. Keys
// are compared exactly, so thresholds that round alike stay distinct.
func KeysFromConfig(cfg *config.Config) []matching.ThresholdKey {
	m := cfg.Matching
	keys := make([]matching.ThresholdKey, 0, len(m.IoUThresholds)*len(m.ConfThresholds)+1)
	seen := make(map[matching.ThresholdKey]bool)
	add := func(k matching.ThresholdKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, iou := range m.IoUThresholds {
		for _, conf := range m.ConfThresholds {
			add(matching.ThresholdKey{IoU: iou, Conf: conf})
		}
	}
	iou, conf := cfg.DefaultKey()
	add(matching.ThresholdKey{IoU: iou, Conf: conf})
	return keys
}
