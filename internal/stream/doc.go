// Package stream provides ordered command streams and completion markers.
//
// A [Stream] is a FIFO of operations executed one at a time by a dedicated
// goroutine. Operations on different streams run concurrently; the only way
// to order them is a [Marker]:
//
//	computeDone := stream.NewMarker("compute_done")
//	compute.Enqueue(ctx, "jacobi", kernel)
//	computeDone.Record(ctx, compute)   // signals once kernel has finished
//	copyStream.WaitMarker(ctx, computeDone)
//	copyStream.Enqueue(ctx, "d2h", readback) // never starts before kernel ends
//	computeDone.Synchronize(ctx)       // host-side wait
//
// Markers are generation counters. Record assigns the next generation and
// enqueues its signal; a wait captures the generation current at the time
// the wait is issued, so re-recording a marker later never releases or
// blocks an earlier waiter. Waiting on a marker that was never recorded
// returns immediately.
//
// A failing operation puts its stream into a sticky error state: the rest
// of its operations are skipped, but marker signals still run and carry the
// error to every waiter, so a failure propagates through the dependency
// graph instead of deadlocking it.
package stream
