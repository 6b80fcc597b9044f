package openai

import "strings"

// modelPricing is USD per million tokens. Prices drift; treat these as
// estimates for budgeting, not billing.
type modelPricing struct {
	inputPer1M    float64
	outputPer1M   float64
	contextWindow int
}

var pricingTable = map[string]modelPricing{
	"gpt-4o":        {inputPer1M: 2.50, outputPer1M: 10.00, contextWindow: 128000},
	"gpt-4o-mini":   {inputPer1M: 0.15, outputPer1M: 0.60, contextWindow: 128000},
	"gpt-4.1":       {inputPer1M: 2.00, outputPer1M: 8.00, contextWindow: 1047576},
	"gpt-4.1-mini":  {inputPer1M: 0.40, outputPer1M: 1.60, contextWindow: 1047576},
	"gpt-4.1-nano":  {inputPer1M: 0.10, outputPer1M: 0.40, contextWindow: 1047576},
	"gpt-4-turbo":   {inputPer1M: 10.00, outputPer1M: 30.00, contextWindow: 128000},
	"gpt-3.5-turbo": {inputPer1M: 0.50, outputPer1M: 1.50, contextWindow: 16385},
	"o3-mini":       {inputPer1M: 1.10, outputPer1M: 4.40, contextWindow: 200000},
}

// pricingFor resolves a model's prices, falling back to its base model for
// dated snapshots like gpt-4o-2024-08-06. Unknown models price at zero.
func pricingFor(model string) modelPricing {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	// Longest base wins so gpt-4o-mini snapshots don't price as gpt-4o.
	var best string
	for base := range pricingTable {
		if strings.HasPrefix(model, base+"-") && len(base) > len(best) {
			best = base
		}
	}
	if best != "" {
		return pricingTable[best]
	}
	return modelPricing{}
}
