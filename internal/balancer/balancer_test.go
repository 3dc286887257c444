package balancer_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecomverify/telecom/internal/balancer"
	"github.com/telecomverify/telecom/internal/verification"
)

type staticRanker []verification.RankEntry

func (s staticRanker) Rank() []verification.RankEntry { return s }

func TestParseKind(t *testing.T) {
	t.Parallel()
	cases := map[string]balancer.Kind{
		"rr":          balancer.KindRoundRobin,
		"round-robin": balancer.KindRoundRobin,
		"RR":          balancer.KindRoundRobin,
		"b":           balancer.KindBest,
		"best":        balancer.KindBest,
		" Best ":      balancer.KindBest,
	}
	for in, want := range cases {
		got, err := balancer.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := balancer.ParseKind("random")
	assert.Error(t, err)
}

func TestRoundRobinCyclicOrder(t *testing.T) {
	t.Parallel()
	rr := balancer.NewRoundRobin([]string{"A", "B", "C"})

	var got []string
	for i := 0; i < 7; i++ {
		id, err := rr.Select()
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C", "A"}, got)
}

func TestRoundRobinFairness(t *testing.T) {
	t.Parallel()
	ids := []string{"A", "B", "C", "D"}
	for _, n := range []int{0, 1, 4, 5, 17, 100} {
		rr := balancer.NewRoundRobin(ids)
		counts := map[string]int{}
		for i := 0; i < n; i++ {
			id, err := rr.Select()
			require.NoError(t, err)
			counts[id]++
		}
		k := len(ids)
		for _, id := range ids {
			c := counts[id]
			assert.True(t, c == n/k || c == (n+k-1)/k, "n=%d id=%s count=%d", n, id, c)
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	t.Parallel()
	_, err := balancer.NewRoundRobin(nil).Select()
	assert.ErrorIs(t, err, balancer.ErrNoProviders)
}

func TestRoundRobinConcurrentSelectIsFair(t *testing.T) {
	t.Parallel()
	rr := balancer.NewRoundRobin([]string{"A", "B", "C"})

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				id, err := rr.Select()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, map[string]int{"A": 1000, "B": 1000, "C": 1000}, counts)
}

func TestBestColdStartIsRoundRobin(t *testing.T) {
	t.Parallel()
	b := balancer.NewBest([]string{"A", "B", "C"}, staticRanker(nil))

	var got []string
	for i := 0; i < 6; i++ {
		id, err := b.Select()
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C"}, got)
}

func TestBestPicksLowestScore(t *testing.T) {
	t.Parallel()
	ranker := staticRanker{
		{Carrier: "B", Score: 0},
		{Carrier: "A", Score: 3},
		{Carrier: "C", Score: 5},
	}
	b := balancer.NewBest([]string{"A", "B", "C"}, ranker)
	for i := 0; i < 5; i++ {
		id, err := b.Select()
		require.NoError(t, err)
		assert.Equal(t, "B", id)
	}
}

func TestBestRotatesAmongTiedLeaders(t *testing.T) {
	t.Parallel()
	ranker := staticRanker{
		{Carrier: "A", Score: 1},
		{Carrier: "C", Score: 1},
		{Carrier: "B", Score: 4},
	}
	b := balancer.NewBest([]string{"A", "B", "C"}, ranker)

	var got []string
	for i := 0; i < 4; i++ {
		id, err := b.Select()
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"A", "C", "A", "C"}, got)
}

func TestBestTreatsUnrankedCarriersAsZero(t *testing.T) {
	t.Parallel()
	ranker := staticRanker{{Carrier: "A", Score: 2}}
	b := balancer.NewBest([]string{"A", "B"}, ranker)
	id, err := b.Select()
	require.NoError(t, err)
	assert.Equal(t, "B", id)
}

func TestBestIgnoresUnknownRankedCarriers(t *testing.T) {
	t.Parallel()
	ranker := staticRanker{{Carrier: "gone", Score: 0}, {Carrier: "A", Score: 1}}
	b := balancer.NewBest([]string{"A"}, ranker)
	id, err := b.Select()
	require.NoError(t, err)
	assert.Equal(t, "A", id)
}

func TestBestEmpty(t *testing.T) {
	t.Parallel()
	_, err := balancer.NewBest(nil, staticRanker(nil)).Select()
	assert.ErrorIs(t, err, balancer.ErrNoProviders)
}

func TestBestFollowsLiveRepo(t *testing.T) {
	t.Parallel()
	repo := verification.NewRepo()
	b := balancer.NewBest([]string{"A", "B"}, repo)

	repo.Record(verification.Attempt{Carrier: "A", Outcome: verification.Failure})
	id, err := b.Select()
	require.NoError(t, err)
	assert.Equal(t, "B", id)

	repo.Record(verification.Attempt{Carrier: "B", Outcome: verification.Failure})
	repo.Record(verification.Attempt{Carrier: "B", Outcome: verification.Failure})
	id, err = b.Select()
	require.NoError(t, err)
	assert.Equal(t, "A", id)
}

func TestNew(t *testing.T) {
	t.Parallel()
	b, err := balancer.New(balancer.KindRoundRobin, []string{"A"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &balancer.RoundRobin{}, b)

	b, err = balancer.New(balancer.KindBest, []string{"A"}, verification.NewRepo())
	require.NoError(t, err)
	assert.IsType(t, &balancer.Best{}, b)

	_, err = balancer.New(balancer.KindBest, []string{"A"}, nil)
	assert.Error(t, err)

	_, err = balancer.New("weighted", []string{"A"}, nil)
	assert.Error(t, err)
}
