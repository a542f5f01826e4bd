package ai

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SentimentReply is the validated sentiment contract.
type SentimentReply struct {
	Score   float64
	Summary string
}

// DecisionReply is the validated decision contract. Decision is the raw token; mapping is the engine's job.
type DecisionReply struct {
	Decision       string
	Confidence     float64
	Rationale      string
	PriceTarget    *float64
	RiskAssessment string
}

type sentimentWire struct {
	SentimentScore *float64 `json:"sentiment_score"`
	Summary        *string  `json:"summary"`
}

type decisionWire struct {
	Decision       *string         `json:"decision"`
	Confidence     *float64        `json:"confidence"`
	Rationale      *string         `json:"rationale"`
	PriceTarget    json.RawMessage `json:"price_target"`
	RiskAssessment *string         `json:"risk_assessment"`
}

// ParseSentiment validates raw backend text against the sentiment contract.
// The score is clamped into [-1, 1].
func ParseSentiment(raw string) (SentimentReply, error) {
	var w sentimentWire
	if err := decodeObject(raw, &w); err != nil {
		return SentimentReply{}, err
	}
	if w.SentimentScore == nil {
		return SentimentReply{}, errors.Wrap(ErrMalformedResponse, "missing sentiment_score")
	}
	if math.IsNaN(*w.SentimentScore) || math.IsInf(*w.SentimentScore, 0) {
		return SentimentReply{}, errors.Wrap(ErrMalformedResponse, "sentiment_score is not finite")
	}
	reply := SentimentReply{Score: Clamp(*w.SentimentScore, -1, 1)}
	if w.Summary != nil {
		reply.Summary = strings.TrimSpace(*w.Summary)
	}
	if reply.Summary == "" {
		reply.Summary = "No analysis available"
	}
	return reply, nil
}

// ParseDecision validates raw backend text against the decision contract.
func ParseDecision(raw string) (DecisionReply, error) {
	var w decisionWire
	if err := decodeObject(raw, &w); err != nil {
		return DecisionReply{}, err
	}
	if w.Decision == nil {
		return DecisionReply{}, errors.Wrap(ErrMalformedResponse, "missing decision")
	}
	if w.Confidence == nil {
		return DecisionReply{}, errors.Wrap(ErrMalformedResponse, "missing confidence")
	}
	if *w.Confidence < 0 || *w.Confidence > 1 || math.IsNaN(*w.Confidence) {
		return DecisionReply{}, errors.Wrapf(ErrMalformedResponse, "confidence %v outside [0,1]", *w.Confidence)
	}

	reply := DecisionReply{
		Decision:   strings.TrimSpace(*w.Decision),
		Confidence: *w.Confidence,
		Rationale:  "No rationale provided",
	}
	if w.Rationale != nil && strings.TrimSpace(*w.Rationale) != "" {
		reply.Rationale = strings.TrimSpace(*w.Rationale)
	}
	if w.RiskAssessment != nil {
		reply.RiskAssessment = strings.ToUpper(strings.TrimSpace(*w.RiskAssessment))
	}

	target, err := parsePriceTarget(w.PriceTarget)
	if err != nil {
		return DecisionReply{}, err
	}
	reply.PriceTarget = target
	return reply, nil
}

// price_target may be a number, a numeric string or null.
func parsePriceTarget(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n <= 0 {
			return nil, nil
		}
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(ErrMalformedResponse, "price_target has an unexpected type")
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "price_target %q is not a number", s)
	}
	if n <= 0 {
		return nil, nil
	}
	return &n, nil
}

// decodeObject extracts the outermost JSON object, tolerating code fences and chatter around it.
func decodeObject(raw string, v interface{}) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return errors.Wrap(ErrMalformedResponse, "no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return errors.Wrap(ErrMalformedResponse, err.Error())
	}
	return nil
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
