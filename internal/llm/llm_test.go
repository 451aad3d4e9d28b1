package llm

import (
	"testing"

	"marketpulse/internal/core"
)

func TestParseClassifyResponse(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantLabel  core.SentimentLabel
		wantConf   float64
		wantErr    bool
	}{
		{
			name:      "well formed positive",
			response:  "SENTIMENT_LABEL: positive\nSENTIMENT_CONFIDENCE: 0.92",
			wantLabel: core.SentimentPositive,
			wantConf:  0.92,
		},
		{
			name:      "well formed negative",
			response:  "SENTIMENT_LABEL: negative\nSENTIMENT_CONFIDENCE: 0.75",
			wantLabel: core.SentimentNegative,
			wantConf:  0.75,
		},
		{
			name:      "extra whitespace and stray lines",
			response:  "Here is my analysis:\n\n  SENTIMENT_LABEL:  neutral  \n  SENTIMENT_CONFIDENCE:  0.5  \nThanks!",
			wantLabel: core.SentimentNeutral,
			wantConf:  0.5,
		},
		{
			name:      "uppercase label normalized",
			response:  "SENTIMENT_LABEL: Positive\nSENTIMENT_CONFIDENCE: 0.8",
			wantLabel: core.SentimentPositive,
			wantConf:  0.8,
		},
		{
			name:      "confidence clamped to 1",
			response:  "SENTIMENT_LABEL: negative\nSENTIMENT_CONFIDENCE: 1.3",
			wantLabel: core.SentimentNegative,
			wantConf:  1.0,
		},
		{
			name:     "unknown label rejected",
			response: "SENTIMENT_LABEL: bullish\nSENTIMENT_CONFIDENCE: 0.9",
			wantErr:  true,
		},
		{
			name:     "missing confidence rejected",
			response: "SENTIMENT_LABEL: positive",
			wantErr:  true,
		},
		{
			name:     "garbage response rejected",
			response: "I cannot classify this text.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, conf, err := parseClassifyResponse(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got label=%s conf=%f", label, conf)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if label != tt.wantLabel {
				t.Errorf("label = %s, want %s", label, tt.wantLabel)
			}
			if conf != tt.wantConf {
				t.Errorf("confidence = %f, want %f", conf, tt.wantConf)
			}
		})
	}
}
