// Package worker runs coco's single-threaded consumer loop: blocking
// dequeue, endpoint execution, rendezvous write (spec §4.7), plus the
// periodic scheduler for endpoints declaring schedule.period and the
// one-shot call_on_start pass run before the frontend opens.
package worker
