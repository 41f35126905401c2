package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
)

// NodePermission annotates one grant as it applies to a tree node.
type NodePermission struct {
	Permission  model.Permission `json:"permission"`
	Fields      []string         `json:"fields,omitempty"`
	Inherit     bool             `json:"inherit"`
	Source      string           `json:"source"` // "direct" or "via <group name>"
	IsInherited bool             `json:"is_inherited"`
	Depth       int              `json:"depth"`
}

// TreeNode is one resource in the inheritance forest with the user's
// allow and deny annotations.
type TreeNode struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Type        model.ResourceKind `json:"type"`
	Permissions []NodePermission   `json:"permissions"`
	Denies      []NodePermission   `json:"denies"`
	Children    []TreeNode         `json:"children"`
}

// GroupRef names one of the user's groups in the tree response.
type GroupRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// InheritanceTree is the full forest of hierarchical resources the user
// can touch, rooted at sites.
type InheritanceTree struct {
	UserID uuid.UUID  `json:"user_id"`
	Groups []GroupRef `json:"groups"`
	Tree   []TreeNode `json:"tree"`
}

// treeWalk carries the per-user grant index down the hierarchy so each
// node resolves its annotations from the in-memory path instead of a
// fresh ancestor query.
type treeWalk struct {
	// grants on (kind, id), pre-filtered to the user and their groups
	byResource map[model.ResourceKind]map[uuid.UUID][]model.Grant
	groupNames map[uuid.UUID]string
	// path from the current node up to the root, closest first
	path []pathEntry
}

type pathEntry struct {
	kind model.ResourceKind
	id   uuid.UUID
}

// BuildInheritanceTree walks every site down to alerts and brokers and
// keeps the nodes where the user has any applicable allow or deny, either
// direct or inherited.
func (e *Engine) BuildInheritanceTree(ctx context.Context, userID uuid.UUID) (InheritanceTree, error) {
	groups, err := e.GroupsOf(ctx, userID)
	if err != nil {
		return InheritanceTree{}, err
	}
	groupNames, err := e.store.GroupNames(ctx, groups)
	if err != nil {
		return InheritanceTree{}, err
	}

	userGrants, err := e.store.ListGrantsForUser(ctx, userID)
	if err != nil {
		return InheritanceTree{}, err
	}
	groupGrants, err := e.store.ListGrantsForGroups(ctx, groups)
	if err != nil {
		return InheritanceTree{}, err
	}

	w := &treeWalk{
		byResource: map[model.ResourceKind]map[uuid.UUID][]model.Grant{},
		groupNames: groupNames,
	}
	for _, g := range append(userGrants, groupGrants...) {
		m := w.byResource[g.ResourceType]
		if m == nil {
			m = map[uuid.UUID][]model.Grant{}
			w.byResource[g.ResourceType] = m
		}
		m[g.ResourceID] = append(m[g.ResourceID], g)
	}

	sites, err := e.store.ListSites(ctx)
	if err != nil {
		return InheritanceTree{}, err
	}

	var roots []TreeNode
	for _, site := range sites {
		node, keep, err := e.siteNode(ctx, w, site)
		if err != nil {
			return InheritanceTree{}, err
		}
		if keep {
			roots = append(roots, node)
		}
	}

	refs := make([]GroupRef, 0, len(groups))
	for _, g := range groups {
		name := groupNames[g]
		if name == "" {
			name = g.String()
		}
		refs = append(refs, GroupRef{ID: g, Name: name})
	}

	return InheritanceTree{UserID: userID, Groups: refs, Tree: roots}, nil
}

// annotate resolves the applicable grants for the node at the top of the
// walk path, splitting allows from denies.
func (w *treeWalk) annotate() (allows, denies []NodePermission) {
	for depth, entry := range w.path {
		for _, g := range w.byResource[entry.kind][entry.id] {
			if depth > 0 && !g.Inherit {
				continue
			}
			source := "direct"
			if g.GranteeType == model.GranteeGroup {
				name := w.groupNames[g.GranteeID]
				if name == "" {
					name = g.GranteeID.String()
				}
				source = "via " + name
			}
			p := NodePermission{
				Permission:  g.Permission,
				Fields:      g.Fields,
				Inherit:     g.Inherit,
				Source:      source,
				IsInherited: depth > 0,
				Depth:       depth,
			}
			if g.Effect == model.EffectDeny {
				denies = append(denies, p)
			} else {
				allows = append(allows, p)
			}
		}
	}
	return allows, denies
}

func (w *treeWalk) push(kind model.ResourceKind, id uuid.UUID) {
	w.path = append([]pathEntry{{kind, id}}, w.path...)
}

func (w *treeWalk) pop() {
	w.path = w.path[1:]
}

func (e *Engine) siteNode(ctx context.Context, w *treeWalk, site model.Site) (TreeNode, bool, error) {
	w.push(model.KindSite, site.ID)
	defer w.pop()

	allows, denies := w.annotate()

	plans, err := e.store.ListPlansBySite(ctx, site.ID)
	if err != nil {
		return TreeNode{}, false, err
	}
	var children []TreeNode
	for _, plan := range plans {
		node, keep, err := e.planNode(ctx, w, plan)
		if err != nil {
			return TreeNode{}, false, err
		}
		if keep {
			children = append(children, node)
		}
	}

	node := TreeNode{ID: site.ID, Name: site.Name, Type: model.KindSite,
		Permissions: allows, Denies: denies, Children: children}
	return node, len(allows) > 0 || len(denies) > 0 || len(children) > 0, nil
}

func (e *Engine) planNode(ctx context.Context, w *treeWalk, plan model.Plan) (TreeNode, bool, error) {
	w.push(model.KindPlan, plan.ID)
	defer w.pop()

	allows, denies := w.annotate()

	sensors, err := e.store.ListSensorsByPlan(ctx, plan.ID)
	if err != nil {
		return TreeNode{}, false, err
	}
	var children []TreeNode
	for _, sensor := range sensors {
		node, keep, err := e.sensorNode(ctx, w, sensor)
		if err != nil {
			return TreeNode{}, false, err
		}
		if keep {
			children = append(children, node)
		}
	}

	brokers, err := e.store.ListBrokersByPlan(ctx, plan.ID)
	if err != nil {
		return TreeNode{}, false, err
	}
	for _, broker := range brokers {
		w.push(model.KindBroker, broker.ID)
		bAllows, bDenies := w.annotate()
		w.pop()
		if len(bAllows) > 0 || len(bDenies) > 0 {
			children = append(children, TreeNode{
				ID: broker.ID, Name: broker.Name, Type: model.KindBroker,
				Permissions: bAllows, Denies: bDenies,
			})
		}
	}

	node := TreeNode{ID: plan.ID, Name: plan.Name, Type: model.KindPlan,
		Permissions: allows, Denies: denies, Children: children}
	return node, len(allows) > 0 || len(denies) > 0 || len(children) > 0, nil
}

func (e *Engine) sensorNode(ctx context.Context, w *treeWalk, sensor model.Sensor) (TreeNode, bool, error) {
	w.push(model.KindSensor, sensor.ID)
	defer w.pop()

	allows, denies := w.annotate()

	alarms, err := e.store.ListAlarmsBySensor(ctx, sensor.ID)
	if err != nil {
		return TreeNode{}, false, err
	}
	var children []TreeNode
	for _, alarm := range alarms {
		node, keep, err := e.alarmNode(ctx, w, alarm)
		if err != nil {
			return TreeNode{}, false, err
		}
		if keep {
			children = append(children, node)
		}
	}

	node := TreeNode{ID: sensor.ID, Name: sensor.Name, Type: model.KindSensor,
		Permissions: allows, Denies: denies, Children: children}
	return node, len(allows) > 0 || len(denies) > 0 || len(children) > 0, nil
}

func (e *Engine) alarmNode(ctx context.Context, w *treeWalk, alarm model.Alarm) (TreeNode, bool, error) {
	w.push(model.KindAlarm, alarm.ID)
	defer w.pop()

	allows, denies := w.annotate()

	alerts, err := e.store.ListAlertsByAlarm(ctx, alarm.ID)
	if err != nil {
		return TreeNode{}, false, err
	}
	var children []TreeNode
	for _, alert := range alerts {
		w.push(model.KindAlert, alert.ID)
		aAllows, aDenies := w.annotate()
		w.pop()
		if len(aAllows) > 0 || len(aDenies) > 0 {
			name := alert.Message
			if name == "" {
				name = "alert " + alert.ID.String()[:8]
			}
			children = append(children, TreeNode{
				ID: alert.ID, Name: name, Type: model.KindAlert,
				Permissions: aAllows, Denies: aDenies,
			})
		}
	}

	node := TreeNode{ID: alarm.ID, Name: alarm.Name, Type: model.KindAlarm,
		Permissions: allows, Denies: denies, Children: children}
	return node, len(allows) > 0 || len(denies) > 0 || len(children) > 0, nil
}
