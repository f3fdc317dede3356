package model

// AnalysisType names one strategic or financial computation produced by the
// ML backend. Each type has exactly one current result slot per business;
// the latest write wins.
type AnalysisType string

const (
	AnalysisSWOT                  AnalysisType = "swot"
	AnalysisPurchaseCriteria      AnalysisType = "purchaseCriteria"
	AnalysisLoyaltyNPS            AnalysisType = "loyaltyNPS"
	AnalysisPorters               AnalysisType = "porters"
	AnalysisPestel                AnalysisType = "pestel"
	AnalysisFullSwot              AnalysisType = "fullSwot"
	AnalysisCompetitiveAdvantage  AnalysisType = "competitiveAdvantage"
	AnalysisExpandedCapability    AnalysisType = "expandedCapability"
	AnalysisStrategicRadar        AnalysisType = "strategicRadar"
	AnalysisProductivityMetrics   AnalysisType = "productivityMetrics"
	AnalysisMaturityScore         AnalysisType = "maturityScore"
	AnalysisCompetitiveLandscape  AnalysisType = "competitiveLandscape"
	AnalysisCoreAdjacency         AnalysisType = "coreAdjacency"
	AnalysisProfitability         AnalysisType = "profitabilityAnalysis"
	AnalysisGrowthTracker         AnalysisType = "growthTracker"
	AnalysisLiquidityEfficiency   AnalysisType = "liquidityEfficiency"
	AnalysisInvestmentPerformance AnalysisType = "investmentPerformance"
	AnalysisLeverageRisk          AnalysisType = "leverageRisk"
)

// AnalysisResult is one computed analysis payload. Payloads are opaque to the
// orchestrator; shape is owned by the ML backend and the rendering client.
type AnalysisResult struct {
	Type AnalysisType `json:"type"`
	Data any          `json:"data"`
}
