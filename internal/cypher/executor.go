package cypher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeatlas/codeatlas/internal/store"
)

const maxResultRows = 500

// DefaultTimeout wraps each query call; expired queries report a timeout
// error and do not affect state.
const DefaultTimeout = 30 * time.Second

// writeVerbRe rejects write verbs before dispatch. CALL is rejected in every
// form; the dialect has no procedure calls.
var writeVerbRe = regexp.MustCompile(`(?i)\b(CREATE|DELETE|DETACH|SET|MERGE|DROP|REMOVE|CALL)\b`)

// ValidateReadOnly enforces the read-only query contract.
func ValidateReadOnly(query string) error {
	if m := writeVerbRe.FindString(query); m != "" {
		return fmt.Errorf("write verb %q is not allowed in read queries", strings.ToUpper(m))
	}
	return nil
}

// Executor runs Cypher execution plans against a store.
type Executor struct {
	Store   *store.Store
	Timeout time.Duration
}

// Result holds the tabular output of a query.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// binding maps variable names to matched nodes and edges.
type binding struct {
	nodes map[string]*store.Node
	edges map[string]*store.Edge
}

func newBinding() binding {
	return binding{
		nodes: make(map[string]*store.Node),
		edges: make(map[string]*store.Edge),
	}
}

// adjacentResult pairs a matched node with the edge that reached it.
type adjacentResult struct {
	Node *store.Node
	Edge *store.Edge
}

// Query validates, parses, plans, and executes a read-only query with
// parameter binding, under the per-call timeout.
func (e *Executor) Query(ctx context.Context, query string, params map[string]string) (*Result, error) {
	if err := ValidateReadOnly(query); err != nil {
		return nil, err
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q, err := Parse(query, params)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	plan, err := BuildPlan(q)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, execErr := e.executePlan(ctx, plan)
		done <- outcome{res, execErr}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("query timeout after %s", timeout)
	case o := <-done:
		return o.res, o.err
	}
}

func (e *Executor) executePlan(ctx context.Context, plan *Plan) (*Result, error) {
	var bindings []binding

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch s := step.(type) {
		case *ScanNodes:
			bindings, err = e.execScan(s)
		case *ExpandRelationship:
			bindings, err = e.execExpand(s, bindings)
		case *FilterWhere:
			bindings, err = e.execFilter(s, bindings)
		default:
			return nil, fmt.Errorf("unknown step type: %T", step)
		}
		if err != nil {
			return nil, err
		}
		// Only cap after the last step or after expand (which can explode).
		// Never cap between scan and filter — the filter needs all
		// candidates.
		isLastStep := i == len(plan.Steps)-1
		_, isExpand := step.(*ExpandRelationship)
		if isLastStep || isExpand {
			if len(bindings) > maxResultRows*2 {
				bindings = bindings[:maxResultRows*2]
			}
		}
	}

	return e.projectResults(bindings, plan.ReturnSpec)
}

func (e *Executor) execScan(s *ScanNodes) ([]binding, error) {
	var nodes []*store.Node
	var err error

	if s.Kind != "" {
		nodes, err = e.Store.FindNodesByKind(s.Kind)
	} else {
		nodes, err = e.Store.AllNodes()
	}
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}

	if len(s.Props) > 0 {
		nodes = filterNodesByProps(nodes, s.Props)
	}

	var bindings []binding
	for _, n := range nodes {
		b := newBinding()
		if s.Variable != "" {
			b.nodes[s.Variable] = n
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func (e *Executor) execExpand(s *ExpandRelationship, bindings []binding) ([]binding, error) {
	if len(bindings) == 0 {
		return nil, nil
	}

	isVariableLength := s.MinHops != 1 || s.MaxHops != 1

	var result []binding
	for _, b := range bindings {
		fromNode, ok := b.nodes[s.FromVar]
		if !ok {
			continue
		}

		var expanded []binding
		var err error
		if isVariableLength {
			expanded, err = e.expandVariableLength(b, fromNode, s)
		} else {
			expanded, err = e.expandFixedLength(b, fromNode, s)
		}
		if err != nil {
			return nil, err
		}
		result = append(result, expanded...)

		if len(result) > maxResultRows*2 {
			result = result[:maxResultRows*2]
			break
		}
	}
	return result, nil
}

func (e *Executor) expandFixedLength(b binding, fromNode *store.Node, s *ExpandRelationship) ([]binding, error) {
	adjacents, err := e.findAdjacentNodes(fromNode.ID, s.EdgeKinds, s.Direction)
	if err != nil {
		return nil, err
	}

	var result []binding
	for _, adj := range adjacents {
		if s.ToKind != "" && adj.Node.Kind != s.ToKind {
			continue
		}
		if len(s.ToProps) > 0 && !nodeMatchesProps(adj.Node, s.ToProps) {
			continue
		}
		newB := copyBinding(b)
		if s.ToVar != "" {
			newB.nodes[s.ToVar] = adj.Node
		}
		if s.RelVar != "" && adj.Edge != nil {
			newB.edges[s.RelVar] = adj.Edge
		}
		result = append(result, newB)
	}
	return result, nil
}

// expandVariableLength walks the edge kinds breadth-first up to MaxHops
// (unbounded capped at 10).
func (e *Executor) expandVariableLength(b binding, fromNode *store.Node, s *ExpandRelationship) ([]binding, error) {
	maxDepth := s.MaxHops
	if maxDepth == 0 {
		maxDepth = 10
	}

	type hopNode struct {
		node *store.Node
		hop  int
	}
	visited := map[string]int{fromNode.ID: 0}
	queue := []hopNode{{fromNode, 0}}
	var reached []hopNode

	for len(queue) > 0 && len(reached) < maxResultRows {
		cur := queue[0]
		queue = queue[1:]
		if cur.hop >= maxDepth {
			continue
		}
		adjacents, err := e.findAdjacentNodes(cur.node.ID, s.EdgeKinds, s.Direction)
		if err != nil {
			return nil, err
		}
		for _, adj := range adjacents {
			if _, seen := visited[adj.Node.ID]; seen {
				continue
			}
			visited[adj.Node.ID] = cur.hop + 1
			next := hopNode{adj.Node, cur.hop + 1}
			queue = append(queue, next)
			reached = append(reached, next)
		}
	}

	var result []binding
	for _, nh := range reached {
		if nh.hop < s.MinHops {
			continue
		}
		if s.MaxHops > 0 && nh.hop > s.MaxHops {
			continue
		}
		if s.ToKind != "" && nh.node.Kind != s.ToKind {
			continue
		}
		if len(s.ToProps) > 0 && !nodeMatchesProps(nh.node, s.ToProps) {
			continue
		}
		newB := copyBinding(b)
		if s.ToVar != "" {
			newB.nodes[s.ToVar] = nh.node
		}
		// variable-length expansion does not bind individual edges
		result = append(result, newB)
	}
	return result, nil
}

func (e *Executor) findAdjacentNodes(nodeID string, edgeKinds []string, direction string) ([]adjacentResult, error) {
	var allEdges []*store.Edge

	collect := func(find func(id, kind string) ([]*store.Edge, error)) error {
		if len(edgeKinds) > 0 {
			for _, k := range edgeKinds {
				edges, err := find(nodeID, k)
				if err != nil {
					return err
				}
				allEdges = append(allEdges, edges...)
			}
			return nil
		}
		edges, err := find(nodeID, "")
		if err != nil {
			return err
		}
		allEdges = append(allEdges, edges...)
		return nil
	}

	switch direction {
	case "inbound":
		if err := collect(e.Store.FindEdgesByTarget); err != nil {
			return nil, err
		}
	case "any":
		if err := collect(e.Store.FindEdgesBySource); err != nil {
			return nil, err
		}
		if err := collect(e.Store.FindEdgesByTarget); err != nil {
			return nil, err
		}
	default: // outbound
		if err := collect(e.Store.FindEdgesBySource); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool)
	var results []adjacentResult
	for _, edge := range allEdges {
		var targetID string
		switch direction {
		case "inbound":
			targetID = edge.SourceID
		case "any":
			if edge.SourceID == nodeID {
				targetID = edge.TargetID
			} else {
				targetID = edge.SourceID
			}
		default:
			targetID = edge.TargetID
		}
		if seen[targetID] {
			continue
		}
		seen[targetID] = true

		node, err := e.Store.FindNodeByID(targetID)
		if err != nil || node == nil {
			continue
		}
		results = append(results, adjacentResult{Node: node, Edge: edge})
	}
	return results, nil
}

func (e *Executor) execFilter(s *FilterWhere, bindings []binding) ([]binding, error) {
	var result []binding
	for _, b := range bindings {
		match, err := evaluateConditions(b, s.Conditions, s.Operator)
		if err != nil {
			return nil, err
		}
		if match {
			result = append(result, b)
		}
	}
	return result, nil
}

func evaluateConditions(b binding, conditions []Condition, op string) (bool, error) {
	if op == "OR" {
		for _, c := range conditions {
			ok, err := evaluateCondition(b, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	for _, c := range conditions {
		ok, err := evaluateCondition(b, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(b binding, c Condition) (bool, error) {
	var actual any
	if node, ok := b.nodes[c.Variable]; ok {
		actual = getNodeProperty(node, c.Property)
	} else if edge, ok := b.edges[c.Variable]; ok {
		actual = getEdgeProperty(edge, c.Property)
	} else {
		return false, nil
	}

	switch c.Operator {
	case "=":
		return fmt.Sprintf("%v", actual) == c.Value, nil
	case "=~":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		matched, err := regexp.MatchString(c.Value, s)
		if err != nil {
			return false, fmt.Errorf("regex %q: %w", c.Value, err)
		}
		return matched, nil
	case "CONTAINS":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, c.Value), nil
	case "STARTS WITH":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return strings.HasPrefix(s, c.Value), nil
	case ">", "<", ">=", "<=":
		return compareNumeric(actual, c.Value, c.Operator)
	default:
		return false, fmt.Errorf("unsupported operator: %s", c.Operator)
	}
}

func compareNumeric(actual any, expected string, op string) (bool, error) {
	expectedNum, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false, nil
	}
	actualNum, ok := toFloat(actual)
	if !ok {
		if s, isStr := actual.(string); isStr {
			n, parseErr := strconv.ParseFloat(s, 64)
			if parseErr != nil {
				return false, nil
			}
			actualNum = n
		} else {
			return false, nil
		}
	}

	switch op {
	case ">":
		return actualNum > expectedNum, nil
	case "<":
		return actualNum < expectedNum, nil
	case ">=":
		return actualNum >= expectedNum, nil
	case "<=":
		return actualNum <= expectedNum, nil
	default:
		return false, nil
	}
}

func getNodeProperty(n *store.Node, prop string) any {
	switch prop {
	case "name":
		return n.Name
	case "qualified_name":
		return n.QualifiedName
	case "kind", "label":
		return n.Kind
	case "file_path":
		return n.FilePath
	case "start_line":
		return n.StartLine
	case "end_line":
		return n.EndLine
	case "id":
		return n.ID
	default:
		if n.Properties != nil {
			if v, ok := n.Properties[prop]; ok {
				return v
			}
		}
		return nil
	}
}

func getEdgeProperty(edge *store.Edge, prop string) any {
	switch prop {
	case "kind", "type":
		return edge.Kind
	case "source_id":
		return edge.SourceID
	case "target_id":
		return edge.TargetID
	default:
		if edge.Properties != nil {
			if v, ok := edge.Properties[prop]; ok {
				return v
			}
		}
		return nil
	}
}

func (e *Executor) projectResults(bindings []binding, ret *ReturnClause) (*Result, error) {
	if ret == nil {
		return e.defaultProjection(bindings)
	}

	hasCount := false
	for _, item := range ret.Items {
		if item.Func == "COUNT" {
			hasCount = true
			break
		}
	}

	if hasCount {
		return e.aggregateResults(bindings, ret)
	}

	return e.simpleProjection(bindings, ret)
}

func (e *Executor) defaultProjection(bindings []binding) (*Result, error) {
	if len(bindings) == 0 {
		return &Result{Columns: []string{}, Rows: []map[string]any{}}, nil
	}

	varSet := make(map[string]bool)
	edgeVarSet := make(map[string]bool)
	for _, b := range bindings {
		for k := range b.nodes {
			varSet[k] = true
		}
		for k := range b.edges {
			edgeVarSet[k] = true
		}
	}
	var cols []string
	for k := range varSet {
		cols = append(cols, k+".name", k+".qualified_name", k+".kind")
	}
	for k := range edgeVarSet {
		cols = append(cols, k+".kind")
	}
	sort.Strings(cols)

	var rows []map[string]any
	for _, b := range bindings {
		row := make(map[string]any)
		for varName, node := range b.nodes {
			row[varName+".name"] = node.Name
			row[varName+".qualified_name"] = node.QualifiedName
			row[varName+".kind"] = node.Kind
		}
		for varName, edge := range b.edges {
			row[varName+".kind"] = edge.Kind
		}
		rows = append(rows, row)
	}

	if len(rows) > maxResultRows {
		rows = rows[:maxResultRows]
	}

	return &Result{Columns: cols, Rows: rows}, nil
}

func (e *Executor) simpleProjection(bindings []binding, ret *ReturnClause) (*Result, error) {
	var cols []string
	for _, item := range ret.Items {
		col := item.Variable
		if item.Property != "" {
			col = item.Variable + "." + item.Property
		}
		if item.Alias != "" {
			col = item.Alias
		}
		cols = append(cols, col)
	}

	seen := make(map[string]bool)
	var rows []map[string]any
	for _, b := range bindings {
		row := make(map[string]any)
		for i, item := range ret.Items {
			if node, ok := b.nodes[item.Variable]; ok {
				if item.Property == "" {
					row[cols[i]] = map[string]any{
						"name":           node.Name,
						"qualified_name": node.QualifiedName,
						"kind":           node.Kind,
						"file_path":      node.FilePath,
						"start_line":     node.StartLine,
						"end_line":       node.EndLine,
					}
				} else {
					row[cols[i]] = getNodeProperty(node, item.Property)
				}
			} else if edge, ok := b.edges[item.Variable]; ok {
				if item.Property == "" {
					row[cols[i]] = map[string]any{
						"kind":      edge.Kind,
						"source_id": edge.SourceID,
						"target_id": edge.TargetID,
					}
				} else {
					row[cols[i]] = getEdgeProperty(edge, item.Property)
				}
			} else {
				row[cols[i]] = nil
			}
		}

		if ret.Distinct {
			key := fmt.Sprintf("%v", row)
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		rows = append(rows, row)
	}

	if ret.OrderBy != "" {
		orderCol := ret.OrderBy
		for i, item := range ret.Items {
			if item.Alias == orderCol {
				orderCol = cols[i]
				break
			}
		}
		sortRows(rows, orderCol, ret.OrderDir)
	}

	limit := ret.Limit
	if limit <= 0 || limit > maxResultRows {
		limit = maxResultRows
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &Result{Columns: cols, Rows: rows}, nil
}

func (e *Executor) aggregateResults(bindings []binding, ret *ReturnClause) (*Result, error) {
	var groupItems []ReturnItem
	var countItem ReturnItem
	for _, item := range ret.Items {
		if item.Func == "COUNT" {
			countItem = item
		} else {
			groupItems = append(groupItems, item)
		}
	}

	type groupEntry struct {
		row   map[string]any
		count int
	}
	groups := make(map[string]*groupEntry)
	var order []string

	for _, b := range bindings {
		row := make(map[string]any)
		var keyParts []string
		for _, item := range groupItems {
			col := item.Variable
			if item.Property != "" {
				col = item.Variable + "." + item.Property
			}
			if item.Alias != "" {
				col = item.Alias
			}
			var val any
			if node, ok := b.nodes[item.Variable]; ok {
				val = getNodeProperty(node, item.Property)
			} else if edge, ok := b.edges[item.Variable]; ok {
				val = getEdgeProperty(edge, item.Property)
			}
			row[col] = val
			keyParts = append(keyParts, fmt.Sprintf("%v", val))
		}
		key := strings.Join(keyParts, "\x00")
		if g, ok := groups[key]; ok {
			g.count++
		} else {
			groups[key] = &groupEntry{row: row, count: 1}
			order = append(order, key)
		}
	}

	var cols []string
	for _, item := range ret.Items {
		col := item.Variable
		if item.Property != "" {
			col = item.Variable + "." + item.Property
		}
		if item.Alias != "" {
			col = item.Alias
		}
		cols = append(cols, col)
	}

	countCol := countItem.Alias
	if countCol == "" {
		countCol = "COUNT(" + countItem.Variable + ")"
	}

	var rows []map[string]any
	for _, key := range order {
		g := groups[key]
		row := g.row
		row[countCol] = g.count
		rows = append(rows, row)
	}

	if ret.OrderBy != "" {
		sortRows(rows, ret.OrderBy, ret.OrderDir)
	}

	limit := ret.Limit
	if limit <= 0 || limit > maxResultRows {
		limit = maxResultRows
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &Result{Columns: cols, Rows: rows}, nil
}

func sortRows(rows []map[string]any, col string, dir string) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][col], rows[j][col]
		cmp := compareValues(a, b)
		if dir == "DESC" {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b any) int {
	aNum, aOK := toFloat(a)
	bNum, bOK := toFloat(b)
	if aOK && bOK {
		if aNum < bNum {
			return -1
		}
		if aNum > bNum {
			return 1
		}
		return 0
	}
	aStr := fmt.Sprintf("%v", a)
	bStr := fmt.Sprintf("%v", b)
	if aStr < bStr {
		return -1
	}
	if aStr > bStr {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func copyBinding(b binding) binding {
	c := newBinding()
	for k, v := range b.nodes {
		c.nodes[k] = v
	}
	for k, v := range b.edges {
		c.edges[k] = v
	}
	return c
}

func filterNodesByProps(nodes []*store.Node, props map[string]string) []*store.Node {
	var filtered []*store.Node
	for _, n := range nodes {
		if nodeMatchesProps(n, props) {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

func nodeMatchesProps(n *store.Node, props map[string]string) bool {
	for key, val := range props {
		actual := getNodeProperty(n, key)
		if fmt.Sprintf("%v", actual) != val {
			return false
		}
	}
	return true
}
