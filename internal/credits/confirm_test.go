package credits_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storybook-server/internal/credits"
)

func TestConfirmIfLow(t *testing.T) {
	const threshold = 50

	testCases := []struct {
		name    string
		balance int64
		cost    int64
		want    credits.Decision
	}{
		{"plenty of credits", 200, 60, credits.DecisionProceed},
		{"exactly at threshold after spend", 110, 60, credits.DecisionProceed},
		{"one below threshold after spend", 109, 60, credits.DecisionConfirmRequired},
		{"spend leaves zero", 60, 60, credits.DecisionConfirmRequired},
		{"not enough for the run", 59, 60, credits.DecisionPurchaseRequired},
		{"zero balance", 0, 60, credits.DecisionPurchaseRequired},
		{"free operation on empty balance", 0, 0, credits.DecisionConfirmRequired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, credits.ConfirmIfLow(tc.balance, tc.cost, threshold))
		})
	}
}
