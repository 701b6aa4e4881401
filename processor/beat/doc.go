// Package beat implements the per-channel heartbeat detector.
//
// A Registry owns one Channel per configured channel id. Transports hand it
// decoded bundles through Ingest; the Registry validates them and queues them on
// the channel's single-worker pool, so samples of one channel are processed
// strictly in arrival order while different channels proceed independently.
//
// Each Channel runs a Warmup/Active/Paused state machine over a rolling
// window of samples:
//
//   - Warmup collects warmup_sample_count accepted samples, then primes the
//     Detector from the window and moves to Active.
//   - Active forwards samples to the Detector. A noisy sample (RMS of
//     successive differences above noise_threshold, or a window pinned to an
//     ADC rail) moves the channel to Paused.
//   - Paused waits for resume_clean_count consecutive clean samples, re-primes
//     the Detector and returns to Active.
//   - A timestamp gap above gap_threshold_ms resets the channel to Warmup from
//     any phase. Out-of-order samples are dropped without touching state.
//
// Confirmed beats pass through the Smoother, which rejects implausible
// inter-beat intervals and turns the rest into a smoothed BPM. Accepted beats
// are handed to a sink.EventSink as ppg.BeatEvent values stamped with the
// processing wall-clock time.
package beat
