package models

import "time"

// LearningParameters are the adaptive knobs read by the decision engine.
type LearningParameters struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RiskAdjustment      float64 `json:"risk_adjustment"`
	MaxTradeAmount      float64 `json:"max_trade_amount"`
}

// FeedbackSummary aggregates the feedback a context was derived from.
type FeedbackSummary struct {
	Total        int     `json:"total_feedback"`
	Positive     int     `json:"positive_feedback"`
	Negative     int     `json:"negative_feedback"`
	AccuracyRate float64 `json:"accuracy_rate"`
}

// PerformanceMetrics is reported alongside each context version.
type PerformanceMetrics struct {
	TotalDecisions   int       `json:"total_decisions"`
	SuccessfulTrades int       `json:"successful_trades"`
	AccuracyRate     float64   `json:"accuracy_rate"`
	LastOptimization time.Time `json:"last_optimization"`
}

// LearningContext is one version in the lineage of adaptive parameters.
type LearningContext struct {
	ID                 int64              `json:"id"`
	Version            int                `json:"version"`
	Parameters         LearningParameters `json:"learning_parameters"`
	FeedbackSummary    FeedbackSummary    `json:"feedback_summary"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	IsActive           bool               `json:"is_active"`
	CreatedAt          time.Time          `json:"created_at"`
}
