// Package memory implements the learner memory subsystem: the distillation
// pipeline that turns raw interaction text into compact embedded records, a
// per-(user, embedding-model) vector retrieval index held in a bounded
// process-wide cache, similarity search with a degradation chain that never
// surfaces an error to callers, and the once-per-episode consolidation step.
package memory
