package deploy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// actionsTotal tracks executed deploy actions by type and result
// Labels: type (copy, docker-restart, command, unknown), result (success, failure)
var actionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certflow_deploy_actions_total",
		Help: "Total number of deploy actions grouped by type and result",
	},
	[]string{"type", "result"},
)

// recordAction records one executed action
func recordAction(actionType ActionType, success bool) {
	actionsTotal.WithLabelValues(string(actionType), resultString(success)).Inc()
}
