package token_test

import (
	"testing"

	"github.com/MrEthical07/rentauth/token"
	"github.com/MrEthical07/rentauth/token/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) token.Store { return token.NewMemoryStore() })
}
