package model

// ResourceKind identifies the type half of a (kind, id) resource reference.
type ResourceKind string

// Hierarchical kinds participate in the ancestor chain; standalone kinds
// (user, group, dashboard, and the catalog kinds) never inherit.
const (
	KindSite   ResourceKind = "site"
	KindPlan   ResourceKind = "plan"
	KindSensor ResourceKind = "sensor"
	KindBroker ResourceKind = "broker"
	KindAlarm  ResourceKind = "alarm"
	KindAlert  ResourceKind = "alert"

	KindUser      ResourceKind = "user"
	KindGroup     ResourceKind = "group"
	KindDashboard ResourceKind = "dashboard"

	KindHardware          ResourceKind = "hardware"
	KindDatatype          ResourceKind = "datatype"
	KindProtocol          ResourceKind = "protocol"
	KindParser            ResourceKind = "parser"
	KindManufacturer      ResourceKind = "manufacturer"
	KindCommunicationMode ResourceKind = "communication_mode"
)

// AllKinds lists every resource kind the ACL system knows about.
var AllKinds = []ResourceKind{
	KindSite, KindPlan, KindSensor, KindBroker, KindAlarm, KindAlert,
	KindUser, KindGroup, KindDashboard,
	KindHardware, KindDatatype, KindProtocol, KindParser,
	KindManufacturer, KindCommunicationMode,
}

// CatalogKinds are the admin-managed configuration kinds. They default to
// read for every authenticated user and require a superuser for mutation.
var CatalogKinds = map[ResourceKind]bool{
	KindHardware:          true,
	KindDatatype:          true,
	KindProtocol:          true,
	KindParser:            true,
	KindManufacturer:      true,
	KindCommunicationMode: true,
}

var validKinds = func() map[ResourceKind]bool {
	m := make(map[ResourceKind]bool, len(AllKinds))
	for _, k := range AllKinds {
		m[k] = true
	}
	return m
}()

// ValidResourceKind reports whether k is a known resource kind.
func ValidResourceKind(k ResourceKind) bool {
	return validKinds[k]
}

// IsCatalogKind reports whether k is one of the catalog kinds.
func IsCatalogKind(k ResourceKind) bool {
	return CatalogKinds[k]
}
