package forecast

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/genai"

	"posadmin/backend/internal/cache"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/validate"
)

// ErrGeneration covers every failure of a forecast call: transport, timeout
// or a response that does not match the declared shape.
var ErrGeneration = errors.New("forecast generation failed")

const (
	FlowStockOut = "stock_out_prediction"
	FlowReorder  = "reorder_suggestion"
)

// Generator produces a JSON document conforming to schema for the prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, schema *genai.Schema) ([]byte, error)
}

// Recorder receives one observation per flow call.
type Recorder interface {
	ObserveForecast(flow string, outcome string)
}

type TimeFrame string

const (
	TimeFrameDaily   TimeFrame = "daily"
	TimeFrameWeekly  TimeFrame = "weekly"
	TimeFrameMonthly TimeFrame = "monthly"
)

type StockOutInput struct {
	ProductName          string  `json:"productName" validate:"required"`
	SalesVelocity        float64 `json:"salesVelocity" validate:"gte=0"`
	CurrentStock         int     `json:"currentStock"`
	HistoricalTrends     string  `json:"historicalTrends"`
	SupplierLeadTimeDays *int    `json:"supplierLeadTimeDays,omitempty" validate:"omitempty,gte=0"`
}

type StockOutPrediction struct {
	PredictedStockOut string `json:"predictedStockOut"`
	ReorderSuggestion string `json:"reorderSuggestion"`
}

type ReorderInput struct {
	ProductID            string    `json:"productId" validate:"required"`
	ProductName          string    `json:"productName" validate:"required"`
	CurrentStock         int       `json:"currentStock"`
	SalesVelocity        float64   `json:"salesVelocity" validate:"gte=0"`
	HistoricalSalesData  string    `json:"historicalSalesData" validate:"required,json"`
	TimeFrame            TimeFrame `json:"timeFrame" validate:"required,oneof=daily weekly monthly"`
	SupplierLeadTimeDays *int      `json:"supplierLeadTimeDays,omitempty" validate:"omitempty,gte=0"`
}

type ReorderSuggestion struct {
	ReorderQuantity int    `json:"reorderQuantity"`
	LowStockAlert   bool   `json:"lowStockAlert"`
	Reasoning       string `json:"reasoning"`
}

var stockOutSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"predictedStockOut": {Type: genai.TypeString, Description: "When current stock is expected to run out."},
		"reorderSuggestion": {Type: genai.TypeString, Description: "What to reorder and when."},
	},
	Required: []string{"predictedStockOut", "reorderSuggestion"},
}

var reorderSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"reorderQuantity": {Type: genai.TypeInteger, Description: "Units to order now; zero when no order is needed."},
		"lowStockAlert":   {Type: genai.TypeBoolean, Description: "Whether stock is already at or below a safe level."},
		"reasoning":       {Type: genai.TypeString, Description: "Short explanation of the recommendation."},
	},
	Required: []string{"reorderQuantity", "lowStockAlert", "reasoning"},
}

type Options struct {
	Generator Generator
	Cache     cache.ForecastCache
	CacheTTL  time.Duration
	Timeout   time.Duration
	Logger    *logger.Logger
	Recorder  Recorder
}

type Service struct {
	gen      Generator
	cache    cache.ForecastCache
	cacheTTL time.Duration
	timeout  time.Duration
	logg     *logger.Logger
	recorder Recorder
}

func NewService(opts Options) *Service {
	c := opts.Cache
	if c == nil {
		c = cache.NoopForecastCache{}
	}
	return &Service{
		gen:      opts.Generator,
		cache:    c,
		cacheTTL: opts.CacheTTL,
		timeout:  opts.Timeout,
		logg:     opts.Logger,
		recorder: opts.Recorder,
	}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.gen != nil
}

func (s *Service) PredictStockOut(ctx context.Context, in StockOutInput) (StockOutPrediction, error) {
	if err := validate.Struct(in); err != nil {
		return StockOutPrediction{}, err
	}
	var out StockOutPrediction
	if err := s.run(ctx, FlowStockOut, in, stockOutPrompt(in), stockOutSchema, &out); err != nil {
		return StockOutPrediction{}, err
	}
	return out, nil
}

func (s *Service) SuggestReorder(ctx context.Context, in ReorderInput) (ReorderSuggestion, error) {
	if err := validate.Struct(in); err != nil {
		return ReorderSuggestion{}, err
	}
	var out ReorderSuggestion
	if err := s.run(ctx, FlowReorder, in, reorderPrompt(in), reorderSchema, &out); err != nil {
		return ReorderSuggestion{}, err
	}
	return out, nil
}

func (s *Service) run(ctx context.Context, flow string, input any, prompt string, schema *genai.Schema, out any) error {
	if !s.Enabled() {
		s.observe(ctx, flow, "unavailable", nil)
		return fmt.Errorf("%w: no generator configured", ErrGeneration)
	}

	key, err := cacheKey(flow, input)
	if err != nil {
		return err
	}
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "flow", flow), "forecast.cache.get_failed")
	} else if ok {
		if decodeErr := decodeStrict(cached, schema.Required, out); decodeErr == nil {
			s.observe(ctx, flow, "cache_hit", nil)
			return nil
		}
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	raw, err := s.gen.Generate(callCtx, prompt, schema)
	if err != nil {
		s.observe(ctx, flow, "error", err)
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if err := decodeStrict(raw, schema.Required, out); err != nil {
		s.observe(ctx, flow, "invalid_shape", err)
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	if encoded, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, key, encoded, s.cacheTTL); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "flow", flow), "forecast.cache.set_failed")
		}
	}
	s.observe(ctx, flow, "ok", nil)
	return nil
}

func (s *Service) observe(ctx context.Context, flow string, outcome string, err error) {
	if s.recorder != nil {
		s.recorder.ObserveForecast(flow, outcome)
	}
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{"flow": flow, "outcome": outcome}), "forecast.call.failed", err)
	}
}

// decodeStrict rejects unknown fields, wrong types, trailing data and any
// missing required field.
func decodeStrict(raw []byte, required []string, out any) error {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	for _, field := range required {
		value, ok := present[field]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return fmt.Errorf("response is missing %q", field)
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("response shape: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("response has trailing data")
	}
	return nil
}

func cacheKey(flow string, input any) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(flow+":"), payload...))
	return flow + ":" + hex.EncodeToString(sum[:]), nil
}
