// Package pipeline runs a linear chain of stages, each served by a
// pool of workers, connected by FIFO queues.
//
// The first stage of a pipeline is usually a source: its function
// takes no input and is called over and over, each call producing a
// (possibly empty) sequence of messages. Every later stage is fed one
// item at a time from its input queue. Whatever a stage's function
// yields is pushed, in order, onto the next stage's input queue.
//
// A pipeline ends when its source yields `Stop`. Rank 0 of the source
// then pushes one `Stop` per worker of the next stage; each of those
// workers exits when it pops its `Stop`, and the next stage's rank 0
// repeats the relay downstream. Every worker of every stage therefore
// sees exactly one `Stop`, and `Join()` returns once the items ahead
// of it have been processed.
//
// A stage's workers are either goroutines (`WithWorkers`) or separate
// processes running the same binary (`WithProcesses`). Process workers
// require the stage function to be registered with `Register` or
// `RegisterSource`, and the program must hand control to
// `ServeWorker` when `IsWorkerProcess` reports true:
//
//	func main() {
//		if pipeline.IsWorkerProcess() {
//			os.Exit(pipeline.ServeWorker(context.Background()))
//		}
//		...
//	}
//
// `Pipeline.Serial()` runs the same stage functions on the calling
// goroutine without any queues. It is meant for debugging.
package pipeline
