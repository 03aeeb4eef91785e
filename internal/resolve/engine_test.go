package resolve

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"inntekt/internal/need"
	"inntekt/internal/period"
	"inntekt/internal/registry"
	"inntekt/internal/resolve/dedupe"
	"inntekt/internal/sts"
	"inntekt/pkg/requestcontext"
)

const needIncomeCalc = `{"id":"b1","subjectId":"123","correlationId":"v1","requestedCapabilities":["IncomeCalc"],"periodStart":"2020-02","periodEnd":"2021-01","extra":"kept"}`

type fakeLookup struct {
	months []registry.MonthlyIncome
	err    error

	calls          int
	gotSubject     string
	gotFilter      period.FilterCode
	gotCorrelation string
	gotCtxNeedID   string
}

func (f *fakeLookup) Lookup(ctx context.Context, subjectID string, start, end period.YearMonth, filter period.FilterCode, correlationID string) ([]registry.MonthlyIncome, error) {
	f.calls++
	f.gotSubject = subjectID
	f.gotFilter = filter
	f.gotCorrelation = correlationID
	f.gotCtxNeedID = requestcontext.NeedID(ctx)
	return f.months, f.err
}

type fakePublisher struct {
	published []need.Envelope
	keys      []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, key string, env need.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	f.keys = append(f.keys, key)
	return nil
}

type EngineSuite struct {
	suite.Suite
	lookup    *fakeLookup
	publisher *fakePublisher
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.lookup = &fakeLookup{}
	s.publisher = &fakePublisher{}
}

func (s *EngineSuite) newEngine(opts ...Option) *Engine {
	engine, err := New("IncomeCalc", period.DefaultRules(), s.lookup, s.publisher, slog.New(slog.DiscardHandler), opts...)
	s.Require().NoError(err)
	return engine
}

func (s *EngineSuite) monthsOf(raws ...string) []registry.MonthlyIncome {
	months := make([]registry.MonthlyIncome, 0, len(raws))
	for _, raw := range raws {
		ym, err := period.Parse(raw)
		s.Require().NoError(err)
		months = append(months, registry.MonthlyIncome{YearMonth: ym, Records: []registry.IncomeRecord{}})
	}
	return months
}

func (s *EngineSuite) TestNew() {
	logger := slog.New(slog.DiscardHandler)

	s.Run("nil strategy returns error", func() {
		_, err := New("IncomeCalc", nil, s.lookup, s.publisher, logger)
		s.Error(err)
	})

	s.Run("nil lookup returns error", func() {
		_, err := New("IncomeCalc", period.DefaultRules(), nil, s.publisher, logger)
		s.Error(err)
	})

	s.Run("nil publisher returns error", func() {
		_, err := New("IncomeCalc", period.DefaultRules(), s.lookup, nil, logger)
		s.Error(err)
	})
}

func (s *EngineSuite) TestResolvesTwelveMonthNeed() {
	s.lookup.months = s.monthsOf("2020-02", "2020-03")
	engine := s.newEngine()

	outcome := engine.Handle(context.Background(), []byte(needIncomeCalc))

	s.Equal(StatusResolved, outcome.Status)
	s.Require().Len(s.publisher.published, 1)
	s.Equal([]string{"b1"}, s.publisher.keys)

	s.Equal("123", s.lookup.gotSubject)
	s.Equal(period.FilterLongWindow, s.lookup.gotFilter)
	s.Equal("v1", s.lookup.gotCorrelation)
	s.Equal("b1", s.lookup.gotCtxNeedID, "need id must ride the lookup context")

	encoded, err := json.Marshal(s.publisher.published[0])
	s.Require().NoError(err)

	var got struct {
		ID       string                     `json:"id"`
		Extra    string                     `json:"extra"`
		Solution map[string]json.RawMessage `json:"solution"`
	}
	s.Require().NoError(json.Unmarshal(encoded, &got))
	s.Equal("b1", got.ID)
	s.Equal("kept", got.Extra)

	var entries []registry.MonthlyIncome
	s.Require().NoError(json.Unmarshal(got.Solution["IncomeCalc"], &entries))
	s.Len(entries, 2)
}

func (s *EngineSuite) TestResolvesThreeMonthNeedWithShortFilter() {
	s.lookup.months = s.monthsOf("2020-01", "2020-02", "2020-03")
	engine := s.newEngine()

	raw := `{"id":"b2","subjectId":"123","correlationId":"v2","requestedCapabilities":["IncomeCalc"],"periodStart":"2020-01","periodEnd":"2020-03"}`
	outcome := engine.Handle(context.Background(), []byte(raw))

	s.Equal(StatusResolved, outcome.Status)
	s.Equal(period.FilterShortWindow, s.lookup.gotFilter)
}

func (s *EngineSuite) TestIgnoresAlreadySolvedNeed() {
	engine := s.newEngine()
	raw := `{"id":"b1","subjectId":"123","correlationId":"v1","requestedCapabilities":["IncomeCalc"],"periodStart":"2020-02","periodEnd":"2021-01","solution":{"IncomeCalc":[]}}`

	outcome := engine.Handle(context.Background(), []byte(raw))

	s.Equal(StatusIgnored, outcome.Status)
	s.Zero(s.lookup.calls)
	s.Empty(s.publisher.published)
}

func (s *EngineSuite) TestIgnoresForeignCapability() {
	engine := s.newEngine()
	raw := `{"id":"b1","subjectId":"123","correlationId":"v1","requestedCapabilities":["Sykepengehistorikk"],"periodStart":"2020-02","periodEnd":"2021-01"}`

	outcome := engine.Handle(context.Background(), []byte(raw))

	s.Equal(StatusIgnored, outcome.Status)
	s.Zero(s.lookup.calls)
	s.Empty(s.publisher.published)
}

func (s *EngineSuite) TestIgnoresMissingFields() {
	engine := s.newEngine()
	raw := `{"id":"b1","requestedCapabilities":["IncomeCalc"]}`

	outcome := engine.Handle(context.Background(), []byte(raw))

	s.Equal(StatusIgnored, outcome.Status)
	s.Empty(s.publisher.published)
}

func (s *EngineSuite) TestFailsUnsupportedSpan() {
	engine := s.newEngine()
	raw := `{"id":"b1","subjectId":"123","correlationId":"v1","requestedCapabilities":["IncomeCalc"],"periodStart":"2020-01","periodEnd":"2020-02"}`

	outcome := engine.Handle(context.Background(), []byte(raw))

	s.Equal(StatusFailed, outcome.Status)
	s.ErrorIs(outcome.Err, period.ErrUnsupportedSpan)
	s.Zero(s.lookup.calls, "no lookup for a misconfigured period")
	s.Empty(s.publisher.published)
}

func (s *EngineSuite) TestFailsOnUpstreamError() {
	s.lookup.err = &registry.UpstreamError{Status: 500, Body: "boom"}
	engine := s.newEngine()

	outcome := engine.Handle(context.Background(), []byte(needIncomeCalc))

	s.Equal(StatusFailed, outcome.Status)
	var upstream *registry.UpstreamError
	s.ErrorAs(outcome.Err, &upstream)
	s.Empty(s.publisher.published)
}

func (s *EngineSuite) TestFailsOnAuthError() {
	s.lookup.err = &sts.AuthError{Err: context.DeadlineExceeded}
	engine := s.newEngine()

	outcome := engine.Handle(context.Background(), []byte(needIncomeCalc))

	s.Equal(StatusFailed, outcome.Status)
	s.Empty(s.publisher.published)
}

func (s *EngineSuite) TestFailsWhenPublishFails() {
	s.lookup.months = s.monthsOf("2020-02")
	s.publisher.err = assertAnError{}
	engine := s.newEngine()

	outcome := engine.Handle(context.Background(), []byte(needIncomeCalc))

	s.Equal(StatusFailed, outcome.Status)
	s.Error(outcome.Err)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "publish failed" }

func (s *EngineSuite) TestSkipsRedeliveredAnsweredNeed() {
	s.lookup.months = s.monthsOf("2020-02")
	store := dedupe.NewInMemoryStore(time.Hour)
	engine := s.newEngine(WithDedupeStore(store))

	first := engine.Handle(context.Background(), []byte(needIncomeCalc))
	s.Equal(StatusResolved, first.Status)

	second := engine.Handle(context.Background(), []byte(needIncomeCalc))
	s.Equal(StatusIgnored, second.Status)
	s.Equal(1, s.lookup.calls)
	s.Len(s.publisher.published, 1)
}

func (s *EngineSuite) TestDedupeFailureIsAdvisory() {
	s.lookup.months = s.monthsOf("2020-02")
	engine := s.newEngine(WithDedupeStore(brokenStore{}))

	outcome := engine.Handle(context.Background(), []byte(needIncomeCalc))

	s.Equal(StatusResolved, outcome.Status, "a broken dedupe store must not fail the message")
}

type brokenStore struct{}

func (brokenStore) Seen(context.Context, string) (bool, error) { return false, assertAnError{} }
func (brokenStore) Mark(context.Context, string) error         { return assertAnError{} }

func (s *EngineSuite) TestFixedFilterCapability() {
	s.lookup.months = s.monthsOf("2020-02")
	engine, err := New("InntekterForSykepengegrunnlag",
		period.FixedFilter(period.FilterShortWindow),
		s.lookup, s.publisher, slog.New(slog.DiscardHandler))
	s.Require().NoError(err)

	// A twelve month window still uses the pinned article filter.
	raw := `{"id":"b3","subjectId":"123","correlationId":"v3","requestedCapabilities":["InntekterForSykepengegrunnlag"],"periodStart":"2020-02","periodEnd":"2021-01"}`
	outcome := engine.Handle(context.Background(), []byte(raw))

	s.Equal(StatusResolved, outcome.Status)
	s.Equal(period.FilterShortWindow, s.lookup.gotFilter)
}
