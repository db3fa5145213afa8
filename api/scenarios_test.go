package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) loadScenario(id string) LoadScenarioResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: id})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[LoadScenarioResponse](s.t, rec)
}

func TestScenarios_ListAndLoadEach(t *testing.T) {
	s := newTestServer(t)

	list := decodeBody[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", "", nil))
	require.Len(t, list, len(scenarioLoaders))

	groups := map[string]bool{}
	for _, sc := range list {
		t.Run(sc.ID, func(t *testing.T) {
			resp := s.loadScenario(sc.ID)

			assert.Equal(t, sc.ID, resp.ScenarioID)
			assert.False(t, groups[resp.GroupID], "every load gets its own household")
			groups[resp.GroupID] = true

			owner := resp.Tokens["owner"]
			require.NotEmpty(t, owner)
			cards := decodeBody[[]CardDTO](t, s.do(http.MethodGet, "/api/cards", owner, nil))
			assert.NotEmpty(t, cards)
			assert.NotEmpty(t, decodeBody[[]PurchaseDTO](t, s.do(http.MethodGet, "/api/purchases", owner, nil)))

			current := decodeBody[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", "", nil))
			assert.Equal(t, sc.ID, current.ID)
		})
	}
}

func TestScenarios_UnknownScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_FamilyPermissions(t *testing.T) {
	// GIVEN: the family scenario
	s := newTestServer(t)
	resp := s.loadScenario("family")
	owner, partner := resp.Tokens["owner"], resp.Tokens["partner"]
	require.NotEmpty(t, partner)

	// THEN: the owner sees both members
	members := decodeBody[[]MemberDTO](t, s.do(http.MethodGet, "/api/household/members", owner, nil))
	assert.Len(t, members, 2)

	// AND: the partner can add purchases but not cards
	cards := decodeBody[[]CardDTO](t, s.do(http.MethodGet, "/api/cards", partner, nil))
	require.Len(t, cards, 2)
	rec := s.do(http.MethodPost, "/api/purchases", partner, purchaseBody(cards[0].ID, "25.00", "2024-03-10", "single", 1))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/cards", partner, map[string]any{
		"name": "Mine", "credit_limit": "100.00", "closing_day": 1, "due_day": 10,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// AND: the owner keeps the demo display name
	for _, m := range members {
		if m.Role == "owner" {
			assert.Equal(t, "Ana", m.DisplayName)
		}
	}
}

func TestScenarios_NotRoutedOutsideDemoMode(t *testing.T) {
	s := newTestServer(t)
	router := NewRouter(s.h, &Authenticator{Tokens: s.h.Tokens, Households: s.h.Households}, RouterOptions{
		StaticDir: t.TempDir() + "/missing",
	})
	s.router = router

	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "family"})

	assert.NotEqual(t, http.StatusOK, rec.Code)
}
