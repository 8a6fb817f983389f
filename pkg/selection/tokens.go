package selection

// Token names an optional unit of functionality that can be enabled or
// disabled per run.
type Token string

// Concrete service tokens known to the default stack definition. Stack
// definitions may introduce additional tokens; these constants cover the
// services the built-in stages know how to provision.
const (
	TokenIdentity  Token = "identity"
	TokenImage     Token = "image"
	TokenCompute   Token = "compute"
	TokenNetwork   Token = "network"
	TokenBlock     Token = "block"
	TokenObject    Token = "object"
	TokenDashboard Token = "dashboard"
	TokenSeed      Token = "seed"

	TokenMySQL    Token = "mysql"
	TokenPostgres Token = "postgresql"

	TokenRabbit Token = "rabbit"
	TokenQpid   Token = "qpid"
	TokenZeroMQ Token = "zeromq"
)

// MetaGroup is a token that expands to a fixed set of concrete tokens.
type MetaGroup struct {
	// Name is the meta token as it appears in raw input.
	Name Token

	// Members are the concrete tokens the meta token expands to.
	Members []Token
}

// ExclusionGroup is a set of tokens from which exactly one member must be
// enabled in a valid selection.
type ExclusionGroup struct {
	// Name identifies the group in diagnostics.
	Name string

	// Members are the mutually exclusive tokens.
	Members []Token
}

// DefaultMetaGroups returns the meta groups of the built-in stack definition.
func DefaultMetaGroups() []MetaGroup {
	return []MetaGroup{
		{Name: "base", Members: []Token{TokenIdentity, TokenImage, TokenMySQL, TokenRabbit}},
		{Name: "queueing", Members: []Token{TokenRabbit, TokenQpid, TokenZeroMQ}},
		{Name: "storage", Members: []Token{TokenBlock, TokenObject}},
	}
}

// DefaultExclusionGroups returns the exclusion groups of the built-in stack
// definition: exactly one database and exactly one message queue per run.
func DefaultExclusionGroups() []ExclusionGroup {
	return []ExclusionGroup{
		{Name: "database", Members: []Token{TokenMySQL, TokenPostgres}},
		{Name: "queue", Members: []Token{TokenRabbit, TokenQpid, TokenZeroMQ}},
	}
}
