package models

// Cost is the price, in USD per million tokens, of one model family.
type Cost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// costTable holds per-family pricing used by the info endpoint's spend
// estimates. Prices track the public on-demand rates.
var costTable = map[Family]Cost{
	FamilyGPT4o:       {2.50, 10.00},
	FamilyGPT4Turbo:   {10.00, 30.00},
	FamilyGPT4:        {30.00, 60.00},
	FamilyGPT35Turbo:  {0.50, 1.50},
	FamilyO1:          {15.00, 60.00},
	FamilyClaude:      {3.00, 15.00},
	FamilyClaudeOpus:  {15.00, 75.00},
	FamilyGeminiPro:   {1.25, 5.00},
	FamilyGeminiFlash: {0.075, 0.30},
	FamilyMistral:     {2.00, 6.00},
	FamilyDeepseek:    {0.27, 1.10},
	FamilyGrok:        {2.00, 10.00},
	FamilyCommandR:    {2.50, 10.00},
	FamilyQwen:        {0.50, 1.50},
	FamilyMoonshot:    {0.80, 2.40},
	FamilyAWSClaude:   {3.00, 15.00},
	FamilyGCPClaude:   {3.00, 15.00},
	FamilyAzureGPT4o:  {2.50, 10.00},
}

// FamilyCost returns the pricing for a family. Families without a table entry
// report zero cost.
func FamilyCost(f Family) Cost {
	return costTable[f]
}

// UsageCost computes the dollar cost of a token count under a family's rates.
func UsageCost(f Family, inputTokens, outputTokens int64) float64 {
	c := costTable[f]
	return float64(inputTokens)/1e6*c.InputPerMTok + float64(outputTokens)/1e6*c.OutputPerMTok
}
