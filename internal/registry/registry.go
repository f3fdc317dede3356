// Package registry holds the static analysis-type registry: every behavior
// attached to an analysis type (endpoint, state slot, display name, persist
// bucket, document backing, response aliases) lives in one entry so a new
// type cannot be half-wired.
package registry

import (
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/venturelens/strategy-cli/internal/model"
)

// Entry is the full behavior record for one analysis type.
type Entry struct {
	Type        model.AnalysisType
	Endpoint    string
	SlotKey     string
	DisplayName string
	// PersistPhase is the backend bucket the result is persisted under.
	PersistPhase model.Phase
	// DocumentBacked types are computed from the uploaded financial
	// spreadsheet through the document endpoint.
	DocumentBacked bool
	// MetricType is the metric_type query parameter for document-backed types.
	MetricType string
	// DeepSearch marks endpoints that require the deep_search request header.
	DeepSearch bool
	// Aliases is the ordered fallback chain of response keys the backend may
	// nest the payload under. Checked first to last; no match returns the raw
	// response.
	Aliases []string
	// WrapKey, when set, re-wraps an alias match (or the raw response) under
	// this key so the slot always carries the shape the client renders.
	WrapKey string
	// Stringify forces the slot payload to a string, JSON-encoding structured
	// responses.
	Stringify bool
	// Streaming marks the one type whose regeneration supports live partial
	// rendering.
	Streaming bool
}

// DocumentEndpoint is the ML backend endpoint for spreadsheet-backed analyses.
const DocumentEndpoint = "excel-analysis"

var entries = []Entry{
	{
		Type:         model.AnalysisSWOT,
		Endpoint:     "find",
		SlotKey:      "swotAnalysisResult",
		DisplayName:  "SWOT Analysis",
		PersistPhase: model.PhaseInitial,
		DeepSearch:   true,
		Stringify:    true,
	},
	{
		Type:         model.AnalysisPurchaseCriteria,
		Endpoint:     "purchase-criteria",
		SlotKey:      "purchaseCriteriaData",
		DisplayName:  "Purchase Criteria",
		PersistPhase: model.PhaseInitial,
		Aliases:      []string{"purchase_criteria", "purchaseCriteria"},
	},
	{
		Type:         model.AnalysisLoyaltyNPS,
		Endpoint:     "loyalty-metrics",
		SlotKey:      "loyaltyNPSData",
		DisplayName:  "Loyalty & NPS",
		PersistPhase: model.PhaseInitial,
		Aliases:      []string{"loyalty_nps", "loyaltyNPS"},
	},
	{
		Type:         model.AnalysisPorters,
		Endpoint:     "porter-analysis",
		SlotKey:      "portersData",
		DisplayName:  "Porter's Five Forces",
		PersistPhase: model.PhaseInitial,
		DeepSearch:   true,
		Aliases:      []string{"porters_analysis", "porters"},
		Streaming:    true,
	},
	{
		Type:         model.AnalysisPestel,
		Endpoint:     "pestel-analysis",
		SlotKey:      "pestelData",
		DisplayName:  "PESTEL Analysis",
		PersistPhase: model.PhaseInitial,
		DeepSearch:   true,
	},
	{
		Type:         model.AnalysisFullSwot,
		Endpoint:     "full-swot-portfolio",
		SlotKey:      "fullSwotData",
		DisplayName:  "Full SWOT Portfolio",
		PersistPhase: model.PhaseEssential,
		DeepSearch:   true,
	},
	{
		Type:         model.AnalysisCompetitiveAdvantage,
		Endpoint:     "competitive-advantage",
		SlotKey:      "competitiveAdvantageData",
		DisplayName:  "Competitive Advantage",
		PersistPhase: model.PhaseEssential,
	},
	{
		Type:         model.AnalysisExpandedCapability,
		Endpoint:     "expanded-capability-heatmap",
		SlotKey:      "expandedCapabilityData",
		DisplayName:  "Capability Heatmap",
		PersistPhase: model.PhaseEssential,
		Aliases:      []string{"expandedCapabilityHeatmap", "expanded_capability_heatmap"},
		WrapKey:      "expandedCapabilityHeatmap",
	},
	{
		Type:         model.AnalysisStrategicRadar,
		Endpoint:     "strategic-positioning-radar",
		SlotKey:      "strategicRadarData",
		DisplayName:  "Strategic Positioning Radar",
		PersistPhase: model.PhaseEssential,
		Aliases:      []string{"strategicRadar", "strategic_radar"},
		WrapKey:      "strategicRadar",
	},
	{
		Type:         model.AnalysisProductivityMetrics,
		Endpoint:     "productivity-metrics",
		SlotKey:      "productivityData",
		DisplayName:  "Productivity Metrics",
		PersistPhase: model.PhaseEssential,
		Aliases:      []string{"productivityMetrics", "productivity_metrics"},
		WrapKey:      "productivityMetrics",
	},
	{
		Type:         model.AnalysisMaturityScore,
		Endpoint:     "maturity-scoring",
		SlotKey:      "maturityData",
		DisplayName:  "Maturity Score",
		PersistPhase: model.PhaseEssential,
		Aliases:      []string{"maturityScore", "maturity_score"},
		WrapKey:      "maturityScore",
	},
	{
		Type:         model.AnalysisCompetitiveLandscape,
		Endpoint:     "simple-swot-portfolio",
		SlotKey:      "competitiveLandscapeData",
		DisplayName:  "Competitive Landscape",
		PersistPhase: model.PhaseEssential,
		Aliases:      []string{"competitive_landscape", "competitiveLandscape"},
	},
	{
		Type:         model.AnalysisCoreAdjacency,
		Endpoint:     "core-adjacency-matrix",
		SlotKey:      "coreAdjacencyData",
		DisplayName:  "Core",
		PersistPhase: model.PhaseEssential,
		Aliases:      []string{"core_adjacency", "coreAdjacency"},
	},
	{
		Type:           model.AnalysisProfitability,
		Endpoint:       DocumentEndpoint,
		SlotKey:        "profitabilityData",
		DisplayName:    "Profitability Analysis",
		PersistPhase:   model.PhaseGood,
		DocumentBacked: true,
		MetricType:     "profitability",
	},
	{
		Type:           model.AnalysisGrowthTracker,
		Endpoint:       DocumentEndpoint,
		SlotKey:        "growthTrackerData",
		DisplayName:    "Growth Tracker",
		PersistPhase:   model.PhaseGood,
		DocumentBacked: true,
		MetricType:     "growth_trends",
	},
	{
		Type:           model.AnalysisLiquidityEfficiency,
		Endpoint:       DocumentEndpoint,
		SlotKey:        "liquidityEfficiencyData",
		DisplayName:    "Liquidity & Efficiency",
		PersistPhase:   model.PhaseGood,
		DocumentBacked: true,
		MetricType:     "liquidity",
	},
	{
		Type:           model.AnalysisInvestmentPerformance,
		Endpoint:       DocumentEndpoint,
		SlotKey:        "investmentPerformanceData",
		DisplayName:    "Investment Performance",
		PersistPhase:   model.PhaseGood,
		DocumentBacked: true,
		MetricType:     "investment",
	},
	{
		Type:           model.AnalysisLeverageRisk,
		Endpoint:       DocumentEndpoint,
		SlotKey:        "leverageRiskData",
		DisplayName:    "Leverage & Risk",
		PersistPhase:   model.PhaseGood,
		DocumentBacked: true,
		MetricType:     "leverage",
	},
}

// essentialTypes supersedes the initial list; good and advanced append the
// five document-backed financial analyses.
var (
	initialTypes = []model.AnalysisType{
		model.AnalysisSWOT,
		model.AnalysisPurchaseCriteria,
		model.AnalysisLoyaltyNPS,
		model.AnalysisPorters,
		model.AnalysisPestel,
	}

	essentialTypes = []model.AnalysisType{
		model.AnalysisPurchaseCriteria,
		model.AnalysisLoyaltyNPS,
		model.AnalysisPorters,
		model.AnalysisPestel,
		model.AnalysisFullSwot,
		model.AnalysisCompetitiveAdvantage,
		model.AnalysisExpandedCapability,
		model.AnalysisStrategicRadar,
		model.AnalysisProductivityMetrics,
		model.AnalysisMaturityScore,
		model.AnalysisCompetitiveLandscape,
		model.AnalysisCoreAdjacency,
	}

	financialTypes = []model.AnalysisType{
		model.AnalysisProfitability,
		model.AnalysisGrowthTracker,
		model.AnalysisLiquidityEfficiency,
		model.AnalysisInvestmentPerformance,
		model.AnalysisLeverageRisk,
	}
)

var byType = func() map[model.AnalysisType]Entry {
	m := make(map[model.AnalysisType]Entry, len(entries))
	for _, e := range entries {
		m[e.Type] = e
	}
	return m
}()

// Lookup returns the registry entry for an analysis type.
func Lookup(t model.AnalysisType) (Entry, bool) {
	e, ok := byType[t]
	return e, ok
}

// All returns every registered entry in declaration order.
func All() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Types returns every registered analysis type in declaration order.
func Types() []model.AnalysisType {
	out := make([]model.AnalysisType, len(entries))
	for i, e := range entries {
		out[i] = e.Type
	}
	return out
}

// PhaseAnalysisTypes returns the fixed ordered list of analysis types that
// must be (re)computed when the given phase completes or is regenerated.
func PhaseAnalysisTypes(p model.Phase) ([]model.AnalysisType, bool) {
	switch p {
	case model.PhaseInitial:
		return append([]model.AnalysisType(nil), initialTypes...), true
	case model.PhaseEssential:
		return append([]model.AnalysisType(nil), essentialTypes...), true
	case model.PhaseGood, model.PhaseAdvanced:
		out := append([]model.AnalysisType(nil), essentialTypes...)
		return append(out, financialTypes...), true
	}
	return nil, false
}

// FinancialTypes returns the document-backed analysis types.
func FinancialTypes() []model.AnalysisType {
	return append([]model.AnalysisType(nil), financialTypes...)
}

var titler = cases.Title(language.English)

// DisplayName returns the human name for an analysis type, title-casing the
// raw type as a fallback for unregistered values.
func DisplayName(t model.AnalysisType) string {
	if e, ok := byType[t]; ok {
		return e.DisplayName
	}
	return titler.String(string(t))
}

// Validate checks registry consistency at startup: every type reachable from
// a phase list must resolve, every entry must be fully populated, slot keys
// must be unique, and document-backed entries must carry a metric type.
func Validate() error {
	slots := make(map[string]model.AnalysisType, len(entries))
	for _, e := range entries {
		if e.Endpoint == "" || e.SlotKey == "" || e.DisplayName == "" || e.PersistPhase == "" {
			return eris.Errorf("registry: incomplete entry for %s", e.Type)
		}
		if prev, dup := slots[e.SlotKey]; dup {
			return eris.Errorf("registry: slot key %q shared by %s and %s", e.SlotKey, prev, e.Type)
		}
		slots[e.SlotKey] = e.Type
		if e.DocumentBacked && e.MetricType == "" {
			return eris.Errorf("registry: document-backed entry %s missing metric type", e.Type)
		}
		if !e.DocumentBacked && e.Endpoint == DocumentEndpoint {
			return eris.Errorf("registry: entry %s uses the document endpoint but is not document-backed", e.Type)
		}
	}

	for _, p := range []model.Phase{model.PhaseInitial, model.PhaseEssential, model.PhaseGood, model.PhaseAdvanced} {
		types, ok := PhaseAnalysisTypes(p)
		if !ok {
			return eris.Errorf("registry: no analysis list for phase %s", p)
		}
		for _, t := range types {
			if _, ok := byType[t]; !ok {
				return eris.Errorf("registry: phase %s references unregistered type %s", p, t)
			}
		}
	}
	return nil
}
