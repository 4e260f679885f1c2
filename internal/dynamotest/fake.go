// Package dynamotest provides an in-memory DynamoDB used by unit tests.
//
// It understands the expression subset the stores issue: conditions joined by
// AND over attribute_exists, attribute_not_exists, =, <>, >=, <=, >, <, and
// SET update clauses of the form `a = :v`, `a = a + :v`, `a = a - :v` and
// `a = if_not_exists(a, :v) + :w`. Transactions are applied atomically.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type item = map[string]types.AttributeValue

// Fake is a concurrency-safe in-memory DynamoDB. Tables are created on first
// use; the partition key attribute of each table is given to New.
type Fake struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]item

	// BeforeTransact, when set, runs before every TransactWriteItems call.
	// Returning an error fails the call without applying anything.
	BeforeTransact func(in *dyn.TransactWriteItemsInput) error

	TransactCalls int
	UpdateCalls   int
}

// New returns a Fake. keys maps table name to its partition key attribute.
func New(keys map[string]string) *Fake {
	return &Fake{
		keys:   keys,
		tables: map[string]map[string]item{},
	}
}

// Seed stores an item directly.
func (f *Fake) Seed(table string, it item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(table, it)
	if err != nil {
		panic(err)
	}
	f.table(table)[pk] = clone(it)
}

// Item returns a copy of a stored item, or nil.
func (f *Fake) Item(table, pk string) item {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.table(table)[pk]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in a table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.table(table))
}

func (f *Fake) table(name string) map[string]item {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]item{}
		f.tables[name] = t
	}
	return t
}

func (f *Fake) pkOf(table string, it item) (string, error) {
	attr, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	v, ok := it[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: item in %q has no string key %q", table, attr)
	}
	return v.Value, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.table(*in.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	current := f.table(*in.TableName)[pk]
	ok, err := evalCondition(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	f.table(*in.TableName)[pk] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	pk, err := f.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	current := f.table(*in.TableName)[pk]
	ok, err := evalCondition(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next, err := applyUpdate(current, in.Key, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	f.table(*in.TableName)[pk] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = clone(next)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []item
	for _, it := range f.table(*in.TableName) {
		ok, err := evalCondition(in.KeyConditionExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, clone(it))
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []item
	for _, it := range f.table(*in.TableName) {
		ok, err := evalCondition(in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, clone(it))
		}
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransactCalls++
	if f.BeforeTransact != nil {
		if err := f.BeforeTransact(in); err != nil {
			return nil, err
		}
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	seen := map[string]bool{}
	for i, ti := range in.TransactItems {
		table, key, cond, names, values, err := f.target(ti)
		if err != nil {
			return nil, err
		}
		pk, err := f.pkOf(table, key)
		if err != nil {
			return nil, err
		}
		id := table + "/" + pk
		if seen[id] {
			return nil, errors.New("ValidationException: Transaction request cannot include multiple operations on one item")
		}
		seen[id] = true

		ok, err := evalCondition(cond, f.table(table)[pk], names, values)
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			if ti.Update != nil && ti.Update.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
				reasons[i].Item = clone(f.table(table)[pk])
			}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			pk, _ := f.pkOf(*ti.Put.TableName, ti.Put.Item)
			f.table(*ti.Put.TableName)[pk] = clone(ti.Put.Item)
		case ti.Update != nil:
			u := ti.Update
			pk, _ := f.pkOf(*u.TableName, u.Key)
			next, err := applyUpdate(f.table(*u.TableName)[pk], u.Key, u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			f.table(*u.TableName)[pk] = next
		case ti.Delete != nil:
			pk, _ := f.pkOf(*ti.Delete.TableName, ti.Delete.Key)
			delete(f.table(*ti.Delete.TableName), pk)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) target(ti types.TransactWriteItem) (table string, key item, cond *string, names map[string]string, values item, err error) {
	switch {
	case ti.Put != nil:
		return *ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, nil
	case ti.Update != nil:
		return *ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, nil
	case ti.ConditionCheck != nil:
		return *ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, nil
	case ti.Delete != nil:
		return *ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues, nil
	}
	return "", nil, nil, nil, nil, errors.New("dynamotest: empty transact item")
}

func evalCondition(expr *string, it item, names map[string]string, values item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), it, names, values)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func evalClause(clause string, it item, names map[string]string, values item) (bool, error) {
	if inner, ok := fnArg(clause, "attribute_exists"); ok {
		_, present := it[resolveName(inner, names)]
		return present, nil
	}
	if inner, ok := fnArg(clause, "attribute_not_exists"); ok {
		_, present := it[resolveName(inner, names)]
		return !present, nil
	}
	for _, op := range []string{">=", "<=", "<>", "=", ">", "<"} {
		idx := strings.Index(clause, " "+op+" ")
		if idx < 0 {
			continue
		}
		left := resolveName(strings.TrimSpace(clause[:idx]), names)
		right := strings.TrimSpace(clause[idx+len(op)+2:])
		rv, ok := values[right]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value %s", right)
		}
		lv, ok := it[left]
		if !ok {
			return false, nil
		}
		cmp, err := compare(lv, rv)
		if err != nil {
			return false, err
		}
		switch op {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case ">=":
			return cmp >= 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case "<":
			return cmp < 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func applyUpdate(current, key item, expr *string, names map[string]string, values item) (item, error) {
	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	if expr == nil {
		return next, nil
	}
	body := strings.TrimSpace(*expr)
	if !strings.HasPrefix(body, "SET ") {
		return nil, fmt.Errorf("dynamotest: unsupported update %q", body)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(body, "SET "), ", ") {
		parts := strings.SplitN(assign, " = ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("dynamotest: bad assignment %q", assign)
		}
		target := resolveName(strings.TrimSpace(parts[0]), names)
		v, err := evalOperand(strings.TrimSpace(parts[1]), current, names, values)
		if err != nil {
			return nil, err
		}
		next[target] = v
	}
	return next, nil
}

func evalOperand(expr string, it item, names map[string]string, values item) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		if idx := strings.Index(expr, op); idx >= 0 {
			l, err := evalOperand(strings.TrimSpace(expr[:idx]), it, names, values)
			if err != nil {
				return nil, err
			}
			r, err := evalOperand(strings.TrimSpace(expr[idx+3:]), it, names, values)
			if err != nil {
				return nil, err
			}
			ld, err := number(l)
			if err != nil {
				return nil, err
			}
			rd, err := number(r)
			if err != nil {
				return nil, err
			}
			if op == " + " {
				return &types.AttributeValueMemberN{Value: ld.Add(rd).String()}, nil
			}
			return &types.AttributeValueMemberN{Value: ld.Sub(rd).String()}, nil
		}
	}
	if inner, ok := fnArg(expr, "if_not_exists"); ok {
		args := strings.SplitN(inner, ",", 2)
		if len(args) != 2 {
			return nil, fmt.Errorf("dynamotest: bad if_not_exists %q", expr)
		}
		if v, ok := it[resolveName(strings.TrimSpace(args[0]), names)]; ok {
			return v, nil
		}
		return evalOperand(strings.TrimSpace(args[1]), it, names, values)
	}
	if strings.HasPrefix(expr, ":") {
		v, ok := values[expr]
		if !ok {
			return nil, fmt.Errorf("dynamotest: missing value %s", expr)
		}
		return v, nil
	}
	v, ok := it[resolveName(expr, names)]
	if !ok {
		return nil, fmt.Errorf("dynamotest: attribute %s not set", expr)
	}
	return v, nil
}

func fnArg(s, fn string) (string, bool) {
	if !strings.HasPrefix(s, fn+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return strings.TrimSpace(s[len(fn)+1 : len(s)-1]), true
}

func resolveName(s string, names map[string]string) string {
	if strings.HasPrefix(s, "#") {
		if n, ok := names[s]; ok {
			return n
		}
	}
	return s
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, fmt.Errorf("dynamotest: type mismatch %T vs %T", a, b)
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberN:
		ad, err := number(a)
		if err != nil {
			return 0, err
		}
		bd, err := number(b)
		if err != nil {
			return 0, err
		}
		return ad.Cmp(bd), nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, fmt.Errorf("dynamotest: type mismatch %T vs %T", a, b)
		}
		if av.Value == bv.Value {
			return 0, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("dynamotest: cannot compare %T", a)
}

func number(v types.AttributeValue) (decimal.Decimal, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, fmt.Errorf("dynamotest: %T is not a number", v)
	}
	return decimal.NewFromString(n.Value)
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
