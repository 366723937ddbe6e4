// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import "strings"

const usdToEUR = 0.85

// ProviderRate prices one provider's tokens in USD per token, with the
// flat discount applied to prompt tokens when the prompt cache reports
// a hit. Discounts mirror each provider's actual caching economics and
// are configuration, not computed values.
type ProviderRate struct {
	InputPerToken  float64
	OutputPerToken float64
	CacheDiscount  float64
}

// RateTable maps a model-name fragment to its rate. Lookup is by
// substring match on the model name; unknown models cost nothing,
// which is what local inference should report.
type RateTable map[string]ProviderRate

// DefaultRates prices the hosted backends.
func DefaultRates() RateTable {
	return RateTable{
		"gpt": {
			InputPerToken:  0.000005,
			OutputPerToken: 0.000015,
			CacheDiscount:  0.25,
		},
		"claude": {
			InputPerToken:  0.000003,
			OutputPerToken: 0.000015,
			CacheDiscount:  0.90,
		},
	}
}

// Cost computes the EUR cost of one completion.
func (t RateTable) Cost(model string, promptTokens, completionTokens int, cacheUsed bool) float64 {
	for fragment, r := range t {
		if !strings.Contains(model, fragment) {
			continue
		}
		inputRate := r.InputPerToken
		if cacheUsed {
			inputRate *= 1 - r.CacheDiscount
		}
		usd := float64(promptTokens)*inputRate + float64(completionTokens)*r.OutputPerToken
		return usd * usdToEUR
	}
	return 0.0
}
