package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllieRays/redis-wellness/config"
	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/embedding"
	"github.com/AllieRays/redis-wellness/tokens"
)

// coordinatorFixture wires real tier managers over miniredis KV, the mock
// vector index and the mock embedder.
type coordinatorFixture struct {
	coord *Coordinator
	short *ShortTermLog
	epis  *EpisodicMemory
	sem   *SemanticMemory
	proc  *ProceduralMemory
	embed *embedding.MockProvider
	vec   *db.MockVectorIndex
}

func newCoordinatorUnderTest(t *testing.T) *coordinatorFixture {
	t.Helper()
	ctx := context.Background()

	kv, _ := newTestKV(t)
	vec := db.NewMockVectorIndex()
	vec.Mirror = kv
	embed := &embedding.MockProvider{DimSize: 8}

	short := NewShortTermLog(kv, tokens.NewManager(tokens.Config{Budget: 4000}), ShortTermConfig{})
	epis, err := NewEpisodicMemory(ctx, kv, vec, embed, EpisodicConfig{})
	require.NoError(t, err)
	sem, err := NewSemanticMemory(ctx, kv, vec, embed, SemanticConfig{})
	require.NoError(t, err)
	proc, err := NewProceduralMemory(ctx, kv, vec, embed, ProceduralConfig{MinScore: 0.7, Scope: config.ProceduralScopeGlobal})
	require.NoError(t, err)

	coord := NewCoordinator(short, epis, sem, proc, nil, CoordinatorConfig{
		TopKSemantic: 3,
	})
	return &coordinatorFixture{coord: coord, short: short, epis: epis, sem: sem, proc: proc, embed: embed, vec: vec}
}

func TestRetrieveContextHappyPath(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	require.NoError(t, f.short.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}))
	require.NoError(t, f.short.Append(ctx, "s1", Message{Role: RoleAssistant, Content: "hi"}))
	require.NoError(t, f.epis.Store(ctx, "u1", "goal", "User's weight goal is 125 lbs",
		map[string]interface{}{"metric": "weight", "value": 125, "unit": "lbs"}))
	_, err := f.proc.Record(ctx, "u1", "average heart rate", []string{"aggregate_metrics"}, 0.9, 100)
	require.NoError(t, err)

	bundle, err := f.coord.RetrieveContext(ctx, "what's my weight goal", RetrieveOptions{
		Session: "s1",
		User:    "u1",
	})
	require.NoError(t, err)

	assert.Contains(t, bundle.ShortTerm, "User: hello")
	assert.Contains(t, bundle.ShortTerm, "Assistant: hi")
	assert.Equal(t, 2, bundle.ShortTermStats.MessageCount)
	assert.GreaterOrEqual(t, bundle.Episodic.Count, 1)
	assert.NotNil(t, bundle.Semantic)
	assert.NotEmpty(t, bundle.Procedural.QueryType)
	assert.Empty(t, bundle.Stats.Degraded)
}

func TestRetrieveContextEmptyQuery(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	_, err := f.coord.RetrieveContext(context.Background(), "", RetrieveOptions{Session: "s1", User: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// failingEpisodic simulates a broken episodic tier.
type failingEpisodic struct{ EpisodicStore }

func (f failingEpisodic) Retrieve(context.Context, string, string, int) (EpisodicResult, error) {
	return EpisodicResult{}, retrievalErr(TierEpisodic, errors.New("index offline"))
}

// TestRetrieveContextDegradation: one failing tier degrades to empty, the
// rest of the bundle stays intact.
func TestRetrieveContextDegradation(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	require.NoError(t, f.short.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}))

	coord := NewCoordinator(f.short, failingEpisodic{f.epis}, f.sem, f.proc, nil, CoordinatorConfig{TopKSemantic: 3})

	bundle, err := coord.RetrieveContext(ctx, "anything interesting", RetrieveOptions{Session: "s1", User: "u1"})
	require.NoError(t, err, "a single failing tier must not fail the call")

	assert.Zero(t, bundle.Episodic.Count)
	assert.Empty(t, bundle.Episodic.Context)
	assert.Contains(t, bundle.ShortTerm, "hello", "healthy tiers stay intact")
	assert.Contains(t, bundle.Stats.Degraded, TierEpisodic)
}

// failing stand-ins for the remaining tiers.
type failingShortTerm struct{ ShortTermStore }

func (f failingShortTerm) TrimToBudget(context.Context, string, int) ([]Message, ShortTermStats, error) {
	return nil, ShortTermStats{}, retrievalErr(TierShortTerm, errors.New("log offline"))
}

type failingSemantic struct{ SemanticStore }

func (f failingSemantic) Retrieve(context.Context, string, int, string) (SemanticResult, error) {
	return SemanticResult{}, retrievalErr(TierSemantic, errors.New("index offline"))
}

type failingProcedural struct{ ProceduralStore }

func (f failingProcedural) Retrieve(context.Context, string, string, int) (ProceduralResult, error) {
	return ProceduralResult{}, retrievalErr(TierProcedural, errors.New("index offline"))
}

func TestRetrieveContextAllTiersFail(t *testing.T) {
	f := newCoordinatorUnderTest(t)

	coord := NewCoordinator(
		failingShortTerm{f.short},
		failingEpisodic{f.epis},
		failingSemantic{f.sem},
		failingProcedural{f.proc},
		nil,
		CoordinatorConfig{TopKSemantic: 3},
	)

	_, err := coord.RetrieveContext(context.Background(), "anything", RetrieveOptions{Session: "s1", User: "u1"})
	require.Error(t, err, "every tier failing must fail the call")

	var rerr *RetrievalError
	assert.ErrorAs(t, err, &rerr)
}

func TestRetrieveContextSemanticOptional(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()
	require.NoError(t, f.short.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}))

	bundle, err := f.coord.RetrieveContext(ctx, "hello there", RetrieveOptions{
		Session:      "s1",
		User:         "u1",
		TopKSemantic: -1,
	})
	require.NoError(t, err)
	assert.Nil(t, bundle.Semantic, "negative TopKSemantic skips the tier")
}

func TestStoreTurnHappyPath(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	report, err := f.coord.StoreTurn(ctx, TurnInput{
		User:             "u1",
		Session:          "s1",
		UserMessage:      "my weight goal is 125 lbs",
		AssistantMessage: "Noted, 125 lbs it is.",
		ToolTrace:        []ToolCall{{Name: "set_goal", OutputJSON: `{"ok":true}`}},
		SuccessScore:     0.9,
		ExecutionTimeMS:  50,
	})
	require.NoError(t, err)

	assert.True(t, report.ShortTerm.OK)
	require.NotNil(t, report.Episodic, "goal statement must trigger an episodic write")
	assert.True(t, report.Episodic.OK)
	require.NotNil(t, report.Procedural)
	assert.True(t, report.Procedural.OK)

	msgs, err := f.short.Latest(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[0].Role)

	res, err := f.epis.Retrieve(ctx, "u1", "weight goal", 3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Count, 1)
}

func TestStoreTurnNoFactNoTools(t *testing.T) {
	f := newCoordinatorUnderTest(t)

	report, err := f.coord.StoreTurn(context.Background(), TurnInput{
		User:             "u1",
		Session:          "s1",
		UserMessage:      "how was my week",
		AssistantMessage: "Pretty good overall.",
	})
	require.NoError(t, err)

	assert.True(t, report.ShortTerm.OK)
	assert.Nil(t, report.Episodic, "no goal statement, no episodic write")
	assert.Nil(t, report.Procedural, "no tools ran, no procedural write")
}

func TestStoreTurnLowScoreSkipsProcedural(t *testing.T) {
	f := newCoordinatorUnderTest(t)

	report, err := f.coord.StoreTurn(context.Background(), TurnInput{
		User:             "u1",
		Session:          "s1",
		UserMessage:      "average heart rate",
		AssistantMessage: "About 72 bpm.",
		ToolTrace:        []ToolCall{{Name: "aggregate_metrics"}},
		SuccessScore:     0.2,
	})
	require.NoError(t, err)
	require.NotNil(t, report.Procedural)
	assert.True(t, report.Procedural.Skipped)
	assert.False(t, report.Procedural.OK)
}

// TestStoreTurnStrictness: the episodic embedding fails, the episodic tier
// reports an error, and the short-term append still succeeds.
func TestStoreTurnStrictness(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	f.embed.Err = embedding.ErrUnavailable

	report, err := f.coord.StoreTurn(ctx, TurnInput{
		User:             "u1",
		Session:          "s1",
		UserMessage:      "my weight goal is 125 lbs",
		AssistantMessage: "Noted.",
	})
	require.Error(t, err, "storage is strict: the tier failure surfaces")

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, TierEpisodic, werr.Tier)

	assert.True(t, report.ShortTerm.OK, "short-term append must survive")
	require.NotNil(t, report.Episodic)
	assert.NotEmpty(t, report.Episodic.Error)

	msgs, lerr := f.short.Latest(ctx, "s1", 10)
	require.NoError(t, lerr)
	assert.Len(t, msgs, 2)
}

func TestStoreTurnValidation(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	_, err := f.coord.StoreTurn(ctx, TurnInput{Session: "s1", UserMessage: "a", AssistantMessage: "b"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.coord.StoreTurn(ctx, TurnInput{User: "u1", Session: "s1", UserMessage: "a"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMemoryStats(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	_, err := f.coord.StoreTurn(ctx, TurnInput{
		User:             "u1",
		Session:          "s1",
		UserMessage:      "my weight goal is 125 lbs",
		AssistantMessage: "Noted.",
		ToolTrace:        []ToolCall{{Name: "set_goal"}},
		SuccessScore:     0.9,
	})
	require.NoError(t, err)

	stats := f.coord.MemoryStats(ctx, "u1", "s1")
	assert.Equal(t, int64(2), stats.ShortTermMessages)
	assert.Equal(t, 1, stats.EpisodicRecords)
	assert.Equal(t, int64(1), stats.ProceduralRecords)
}

func TestClearSessionAndUser(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()

	_, err := f.coord.StoreTurn(ctx, TurnInput{
		User:             "u1",
		Session:          "s1",
		UserMessage:      "my weight goal is 125 lbs",
		AssistantMessage: "Noted.",
		ToolTrace:        []ToolCall{{Name: "set_goal"}},
		SuccessScore:     0.9,
	})
	require.NoError(t, err)
	require.NoError(t, f.sem.Store(ctx, "shared fact", "guideline", "cardio", "", "src", nil))

	t.Run("clear session leaves long-term tiers", func(t *testing.T) {
		require.NoError(t, f.coord.ClearSession(ctx, "s1"))
		stats := f.coord.MemoryStats(ctx, "u1", "s1")
		assert.Zero(t, stats.ShortTermMessages)
		assert.Equal(t, 1, stats.EpisodicRecords)
	})

	t.Run("clear user removes everything but semantic", func(t *testing.T) {
		require.NoError(t, f.coord.ClearUser(ctx, "u1", "s1"))
		stats := f.coord.MemoryStats(ctx, "u1", "s1")
		assert.Zero(t, stats.EpisodicRecords)
		assert.Zero(t, stats.ProceduralRecords)
		assert.Equal(t, int64(1), stats.SemanticRecords, "semantic knowledge is never cleared per user")
	})
}

// slowTier blocks until the context is cancelled, simulating a hung backend.
type slowTier struct{ SemanticStore }

func (s slowTier) Retrieve(ctx context.Context, _ string, _ int, _ string) (SemanticResult, error) {
	<-ctx.Done()
	return SemanticResult{}, ctx.Err()
}

func TestRetrieveContextDeadline(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()
	require.NoError(t, f.short.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}))

	coord := NewCoordinator(f.short, f.epis, slowTier{f.sem}, f.proc, nil, CoordinatorConfig{
		Deadline:     100 * time.Millisecond,
		TopKSemantic: 3,
	})

	start := time.Now()
	bundle, err := coord.RetrieveContext(ctx, "anything", RetrieveOptions{Session: "s1", User: "u1"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "the deadline must bound the whole call")
	assert.Contains(t, bundle.Stats.Degraded, TierSemantic)
	assert.Contains(t, bundle.ShortTerm, "hello")
}

func TestGatherAllComplete(t *testing.T) {
	results := gather(context.Background(), time.Second, []tierTask{
		{TierShortTerm, func(context.Context) error { return nil }},
		{TierEpisodic, func(context.Context) error { return errors.New("boom") }},
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[TierShortTerm])
	assert.Error(t, results[TierEpisodic])
}

func TestBundleQueryTypeSurvivesDegradation(t *testing.T) {
	f := newCoordinatorUnderTest(t)
	ctx := context.Background()
	require.NoError(t, f.short.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}))

	coord := NewCoordinator(f.short, f.epis, f.sem, failingProcedural{f.proc}, nil, CoordinatorConfig{TopKSemantic: -1})

	bundle, err := coord.RetrieveContext(ctx, "average heart rate last week", RetrieveOptions{Session: "s1", User: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "aggregation", bundle.Procedural.QueryType)
	assert.True(t, strings.Contains(bundle.ShortTerm, "hello"))
}