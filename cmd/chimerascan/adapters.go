package main

import (
	"context"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection/structuring"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection/washtrading"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// washAdapter exposes the wash-trading detector through the rule engine's
// tuple-shaped analyzer surface.
type washAdapter struct {
	detector *washtrading.Detector
}

func (a washAdapter) DetectWashTrading(ctx context.Context, tx *models.TransactionEvent) (bool, float64, map[string]interface{}, error) {
	res, err := a.detector.Detect(ctx, tx)
	if err != nil {
		return false, 0, nil, err
	}
	evidence := map[string]interface{}{
		"patterns":   res.Patterns,
		"from_cache": res.FromCache,
	}
	return res.IsDetected, res.Confidence, evidence, nil
}

type structuringAdapter struct {
	service *structuring.Service
}

func (a structuringAdapter) AnalyzeStructuring(ctx context.Context, tx *models.TransactionEvent) (bool, float64, map[string]interface{}, error) {
	res, err := a.service.Analyze(ctx, tx)
	if err != nil {
		return false, 0, nil, err
	}
	return res.IsDetected, res.Confidence, res.Evidence, nil
}
