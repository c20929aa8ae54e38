package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the optional Prometheus instruments an AccountSynchronizer
// reports per half-round: item counters by category and direction, byte
// throughput, and a counter of stop conditions hit. A nil *Metrics is a
// valid no-op, so callers that don't run a metrics endpoint pay nothing.
type Metrics struct {
	itemsDownloaded  *prometheus.CounterVec
	itemsUploaded    *prometheus.CounterVec
	itemsFailed      *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	stopConditions   *prometheus.CounterVec
	chunkHighUSN     *prometheus.GaugeVec
}

// NewMetrics creates the instrument set and registers it against reg. Pass
// a *prometheus.Registry (or prometheus.DefaultRegisterer) from the caller;
// this package never registers against the global default on its own, so
// running more than one AccountSynchronizer in the same process needs only
// distinct registries, not distinct metric names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		itemsDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountsync_items_downloaded_total",
			Help: "Items downloaded from the remote service by category.",
		}, []string{"category"}),
		itemsUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountsync_items_uploaded_total",
			Help: "Items uploaded to the remote service by category.",
		}, []string{"category"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountsync_items_failed_total",
			Help: "Per-item failures by category and direction.",
		}, []string{"category", "direction"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountsync_bytes_transferred_total",
			Help: "Bytes transferred by direction.",
		}, []string{"direction"}),
		stopConditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountsync_stop_conditions_total",
			Help: "Stop conditions observed by kind (rateLimitReached, authenticationExpired).",
		}, []string{"kind"}),
		chunkHighUSN: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accountsync_chunk_high_usn",
			Help: "Highest update sequence number observed in the account's own sync chunks.",
		}, []string{"scope"}),
	}

	reg.MustRegister(m.itemsDownloaded, m.itemsUploaded, m.itemsFailed, m.bytesTransferred, m.stopConditions, m.chunkHighUSN)

	return m
}

// observeDownload records one Downloader half-round's outcome.
func (m *Metrics) observeDownload(dr DownloadRunResult) {
	if m == nil {
		return
	}

	c := dr.Counters
	m.itemsDownloaded.WithLabelValues("notebook").Add(float64(c.AddedNotebooks + c.UpdatedNotebooks))
	m.itemsDownloaded.WithLabelValues("tag").Add(float64(c.AddedTags + c.UpdatedTags))
	m.itemsDownloaded.WithLabelValues("savedSearch").Add(float64(c.AddedSavedSearches + c.UpdatedSavedSearches))
	m.itemsDownloaded.WithLabelValues("note").Add(float64(c.AddedNotes + c.UpdatedNotes))
	m.itemsDownloaded.WithLabelValues("resource").Add(float64(c.AddedResources + c.UpdatedResources))
	m.itemsDownloaded.WithLabelValues("linkedNotebook").Add(float64(c.AddedLinkedNotebooks + c.UpdatedLinkedNotebooks))

	m.itemsFailed.WithLabelValues("note", "download").Add(float64(len(dr.NotesStatus.NotesWhichFailedToDownload) + len(dr.NotesStatus.NotesWhichFailedToProcess)))
	m.itemsFailed.WithLabelValues("resource", "download").Add(float64(len(dr.ResourcesStatus.ResourcesWhichFailedToDownload) + len(dr.ResourcesStatus.ResourcesWhichFailedToProcess)))

	m.bytesTransferred.WithLabelValues("download").Add(float64(dr.NotesStatus.DownloadedBytes + dr.ResourcesStatus.DownloadedBytes))

	m.chunkHighUSN.WithLabelValues("account").Set(float64(dr.SyncState.UserDataUpdateCount))

	m.observeStop(dr.StopReason)
}

// observeSend records one Sender half-round's outcome.
func (m *Metrics) observeSend(sr SendStatus) {
	if m == nil {
		return
	}

	m.itemsUploaded.WithLabelValues("item").Add(float64(sr.TotalSuccessfulUpdates))
	m.itemsFailed.WithLabelValues("item", "upload").Add(float64(len(sr.FailedToSendItems)))
	m.bytesTransferred.WithLabelValues("upload").Add(float64(sr.UploadedBytes))

	m.observeStop(sr.StopReason)
}

func (m *Metrics) observeStop(stop StopSynchronizationError) {
	if m == nil || stop.None() {
		return
	}

	switch stop.Kind {
	case StopRateLimitReached:
		m.stopConditions.WithLabelValues("rateLimitReached").Inc()
	case StopAuthenticationExpired:
		m.stopConditions.WithLabelValues("authenticationExpired").Inc()
	}
}
