package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storefront metrics collectors
var (
	// Checkout & Fulfillment

	CheckoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_checkouts_total",
			Help: "Total number of checkouts by outcome (completed, partial, failed)",
		},
		[]string{"outcome"},
	)

	CheckoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_checkout_duration_seconds",
			Help:    "Checkout transaction duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KeysAllocatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_keys_allocated_total",
			Help: "Total number of scarce keys bound to orders",
		},
	)

	CredentialsAssignedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_credentials_assigned_total",
			Help: "Total number of credential assignments created",
		},
	)

	ShortfallUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_shortfall_units_total",
			Help: "Units requested but not delivered, by category",
		},
		[]string{"category"},
	)

	// Access tokens

	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_token_validations_total",
			Help: "Total number of access token validation attempts",
		},
		[]string{"kind", "result"},
	)

	// Mail

	MailFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_mail_failures_total",
			Help: "Total number of emails that could not be sent",
		},
	)

	// Chat

	ChatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_chat_messages_total",
			Help: "Total number of chat messages stored, by sender",
		},
		[]string{"sender"},
	)

	ChatAttachmentsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_chat_attachments_rejected_total",
			Help: "Total number of chat attachments dropped by validation",
		},
		[]string{"reason"},
	)
)
