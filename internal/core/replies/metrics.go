package replies

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	repliesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_replies_created_total",
		Help: "Replies committed, by parent type",
	}, []string{"parent_type"})

	replyCreateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_reply_create_failures_total",
		Help: "Rejected or failed reply creations, by reason",
	}, []string{"reason"})

	pageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marginalia_reply_page_duration_seconds",
		Help:    "Time to serve one page of a reply index",
		Buckets: prometheus.DefBuckets,
	}, []string{"index"})
)
