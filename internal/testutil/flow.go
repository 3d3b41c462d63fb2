package testutil

// FixedTokenGenerator returns the same cycle token every time.
//
// Scenario runs use it so that logs and reports are byte-identical between
// runs. If token is empty, Generate returns "test-cycle-default".
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a generator for token.
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-cycle-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
