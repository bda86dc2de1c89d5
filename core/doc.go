// Package core defines the shared data model of the episode execution
// engine: scenarios and their state graphs, episodes and steps, synthetic
// agents and their role assignments, distilled memories, the persistent
// Store contract, and the error types the engine layers agree on.
//
// The package carries no behavior beyond graph accessors and validation
// helpers; execution lives in the episode, assign, conversation, transition
// and memory packages, all of which depend on core and never on each other's
// internals.
package core
