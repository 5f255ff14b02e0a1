package main

import (
	"fmt"
	"io"
	"net/http"
)

func (rt *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	rt.writeMetrics(rw)
}

// writeMetrics emits a minimal Prometheus exposition.
func (rt *app) writeMetrics(w io.Writer) {
	st := rt.provider.Stats()

	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %v\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n", name, v)
	}

	gauge("voxelstream_tick", "Provider update count.", st.Tick)
	gauge("voxelstream_resident_chunks", "Chunks in the cache.", st.Resident)
	gauge("voxelstream_viewers", "Tracked viewers.", st.Viewers)

	fmt.Fprintf(w, "# HELP voxelstream_provider_state Provider lifecycle state (1 for the current one).\n")
	fmt.Fprintf(w, "# TYPE voxelstream_provider_state gauge\n")
	fmt.Fprintf(w, "voxelstream_provider_state{state=%q} 1\n", st.State)

	fmt.Fprintf(w, "# HELP voxelstream_pipeline_positions Pipeline positions by queue.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_pipeline_positions gauge\n")
	fmt.Fprintf(w, "voxelstream_pipeline_positions{queue=%q} %d\n", "pending", st.Pipeline.Pending)
	fmt.Fprintf(w, "voxelstream_pipeline_positions{queue=%q} %d\n", "in_flight", st.Pipeline.InFlight)
	fmt.Fprintf(w, "voxelstream_pipeline_positions{queue=%q} %d\n", "parked", st.Pipeline.Parked)
	fmt.Fprintf(w, "voxelstream_pipeline_positions{queue=%q} %d\n", "ready", st.Pipeline.Ready)
	gauge("voxelstream_pipeline_demand", "Outstanding chunk demand.", st.Pipeline.Demand)

	counter("voxelstream_pipeline_started_total", "Chunks started.", rt.counters.StartedTotal.Load())
	counter("voxelstream_pipeline_parked_total", "Chunks parked at a barrier.", rt.counters.ParkedTotal.Load())
	counter("voxelstream_pipeline_merges_total", "Barrier merges run.", rt.counters.MergesTotal.Load())
	counter("voxelstream_pipeline_failed_total", "Chunks dropped after a stage error.", rt.counters.FailedTotal.Load())
	counter("voxelstream_pipeline_finished_total", "Chunks that completed every stage.", rt.counters.FinishedTotal.Load())

	counter("voxelstream_chunks_generated_total", "Chunks generated.", st.Generated)
	counter("voxelstream_chunks_loaded_total", "Chunks loaded from storage.", st.Loaded)
	counter("voxelstream_chunks_evicted_total", "Chunks unloaded.", st.Evicted)
	counter("voxelstream_chunks_discarded_total", "Ready chunks discarded as no longer relevant.", st.Discarded)
	counter("voxelstream_store_errors_total", "Chunk store failures.", st.StoreErrors)

	gauge("voxelstream_unload_queue_depth", "Queued deactivations.", st.Unload.Queued)
	gauge("voxelstream_unload_queue_capacity", "Deactivation queue capacity.", st.Unload.Capacity)
	counter("voxelstream_unload_processed_total", "Deactivations processed.", st.Unload.Processed)
	counter("voxelstream_unload_dropped_total", "Deactivations dropped.", st.Unload.Dropped)

	if ws, ok := rt.storage.(writebackStats); ok {
		s := ws.Stats()
		gauge("voxelstream_storage_queue_depth", "Chunk write-back queue depth.", s.QueueDepth)
		counter("voxelstream_storage_written_total", "Chunk records written.", s.WrittenTotal)
		counter("voxelstream_storage_dropped_total", "Chunk records dropped.", s.DropTotal)
		counter("voxelstream_storage_errors_total", "Chunk write-back errors.", s.ErrorTotal)
	}

	obs := rt.observer.Stats()
	gauge("voxelstream_observer_sessions", "Connected observer sessions.", obs.Sessions)
	counter("voxelstream_observer_sent_total", "Observer messages sent.", obs.Sent)
	counter("voxelstream_observer_dropped_total", "Observer messages dropped for slow sessions.", obs.Dropped)

	if rt.eventLog != nil {
		ls := rt.eventLog.Stats()
		counter("voxelstream_event_log_written_total", "Events written to the event log.", ls.Written)
		counter("voxelstream_event_log_dropped_total", "Events dropped by the event log.", ls.Dropped)
		counter("voxelstream_event_log_errors_total", "Event log write errors.", ls.Errors)
	}
}
