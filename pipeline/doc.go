// Package pipeline turns long text into one audio artifact.
//
// Text is normalized and cut into index-tagged segments (Segment), every
// segment is synthesized under a concurrency cap with bounded retries and
// resumable progress (Scheduler), the per-segment artifacts are joined
// strictly by index (Merger), and the result is optionally sped up, wrapped
// as video and split into duration-bounded parts (Repackager). Converter
// runs the whole chain for one request.
package pipeline
