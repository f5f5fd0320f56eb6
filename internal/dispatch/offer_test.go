package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferClaimOnlyOneWinner(t *testing.T) {
	o := NewOffer("o1", "j1", "c1", []string{"p1", "p2", "p3"})

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		provider := []string{"p1", "p2", "p3"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.Claim(provider) {
				wins <- provider
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], o.ResolvedBy())
}

func TestOfferClaimRequiresCandidacy(t *testing.T) {
	o := NewOffer("o1", "j1", "", []string{"p1"})
	assert.False(t, o.Claim("p9"))
	assert.True(t, o.Claim("p1"))
}

func TestOfferWithdrawExhausts(t *testing.T) {
	o := NewOffer("o1", "j1", "", []string{"p1", "p2"})
	assert.False(t, o.Withdraw("p1"))
	assert.True(t, o.Withdraw("p2"))
	// a withdrawn candidate cannot claim
	assert.False(t, o.Claim("p1"))
}

func TestOfferWithdrawAfterResolutionNotExhausted(t *testing.T) {
	o := NewOffer("o1", "j1", "", []string{"p1", "p2"})
	require.True(t, o.Claim("p1"))
	assert.False(t, o.Withdraw("p2"))
	assert.False(t, o.Withdraw("p1"))
}

func TestOfferLosersExcludeResolver(t *testing.T) {
	o := NewOffer("o1", "j1", "", []string{"p1", "p2", "p3"})
	require.True(t, o.Claim("p2"))
	losers := o.Losers()
	assert.ElementsMatch(t, []string{"p1", "p3"}, losers)
}
