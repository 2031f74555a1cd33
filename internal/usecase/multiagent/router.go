package multiagent

import (
	"log/slog"
	"strings"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
)

// Keyword sets used when no classifier is available.
var (
	DefaultSearchKeywords = []string{"search", "find", "lookup", "retrieve", "discover", "similar", "show"}
	DefaultDebugKeywords  = []string{"conflict", "error", "wrong", "debug", "fix", "validate"}
)

// KeywordConfig names the two specialist agents and their trigger words.
// Empty keyword lists use the defaults.
type KeywordConfig struct {
	SearchAgent    string
	DebugAgent     string
	SearchKeywords []string
	DebugKeywords  []string
}

// KeywordRouter picks an agent by substring match on the lower-cased query.
// Search keywords are checked before debug keywords.
type KeywordRouter struct {
	searchAgent string
	debugAgent  string
	search      []string
	debug       []string
	logger      *slog.Logger
}

// NewKeywordRouter creates a keyword router.
func NewKeywordRouter(cfg KeywordConfig, log *slog.Logger) *KeywordRouter {
	search := normalizeKeywords(cfg.SearchKeywords)
	if len(search) == 0 {
		search = DefaultSearchKeywords
	}
	debug := normalizeKeywords(cfg.DebugKeywords)
	if len(debug) == 0 {
		debug = DefaultDebugKeywords
	}
	return &KeywordRouter{
		searchAgent: cfg.SearchAgent,
		debugAgent:  cfg.DebugAgent,
		search:      search,
		debug:       debug,
		logger:      logger.OrDiscard(log),
	}
}

// KeywordMatch is the outcome of a keyword lookup.
type KeywordMatch struct {
	Agent   domain.Agent
	Keyword string // empty when the default agent was chosen
}

// Route returns the specialist whose keyword occurs in query, or def. A
// specialist missing from available also yields def.
func (r *KeywordRouter) Route(query string, available []domain.Agent, def domain.Agent) KeywordMatch {
	q := strings.ToLower(query)

	if kw, ok := firstContained(q, r.search); ok {
		if a, found := findAgent(available, r.searchAgent); found {
			r.logger.Debug("keyword matched search agent", "keyword", kw, "agent_id", a.ID)
			return KeywordMatch{Agent: a, Keyword: kw}
		}
		r.logger.Debug("search agent not available, using default", "agent_id", r.searchAgent)
		return KeywordMatch{Agent: def}
	}
	if kw, ok := firstContained(q, r.debug); ok {
		if a, found := findAgent(available, r.debugAgent); found {
			r.logger.Debug("keyword matched debug agent", "keyword", kw, "agent_id", a.ID)
			return KeywordMatch{Agent: a, Keyword: kw}
		}
		r.logger.Debug("debug agent not available, using default", "agent_id", r.debugAgent)
		return KeywordMatch{Agent: def}
	}
	return KeywordMatch{Agent: def}
}

func firstContained(q string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return kw, true
		}
	}
	return "", false
}

func findAgent(agents []domain.Agent, id string) (domain.Agent, bool) {
	if id == "" {
		return domain.Agent{}, false
	}
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Agent{}, false
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
