package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the directory module.
type Metrics struct {
	TenantsCreated    prometheus.Counter
	EmployeesCreated  prometheus.Counter
	SequenceConflicts prometheus.Counter
}

// New creates a new Metrics instance with all directory module metrics registered.
func New() *Metrics {
	return &Metrics{
		TenantsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_tenants_created_total",
			Help: "Total number of tenants materialized by provisioning",
		}),
		EmployeesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_employees_created_total",
			Help: "Total number of employee records created",
		}),
		SequenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_employee_sequence_conflicts_total",
			Help: "Total number of employee id sequence collisions resolved by retry",
		}),
	}
}

// IncrementTenantsCreated records a materialized tenant.
func (m *Metrics) IncrementTenantsCreated() {
	m.TenantsCreated.Inc()
}

// IncrementEmployeesCreated records a created employee record.
func (m *Metrics) IncrementEmployeesCreated() {
	m.EmployeesCreated.Inc()
}
