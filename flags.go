package main

import (
	"fmt"
	"strconv"
	"strings"
)

// negatedBoolValue is a `pflag.Value` that sets a boolean variable to
// the inverse of what the argument would normally indicate (e.g., to
// implement `--no-foo`-style arguments).
type negatedBoolValue struct {
	value *bool
}

func (v *negatedBoolValue) Set(s string) error {
	b, err := strconv.ParseBool(s)
	*v.value = !b
	return err
}

func (v *negatedBoolValue) String() string {
	if v == nil || v.value == nil {
		return "true"
	}

	return strconv.FormatBool(!*v.value)
}

func (v *negatedBoolValue) Type() string {
	return "bool"
}

// opSpec describes one operation stage named on the command line as
// `OP[:WORKERS[:CAPACITY]]`.
type opSpec struct {
	op       string
	workers  int
	capacity int
}

// parseOpSpec parses `s`. Omitted fields are 1 worker and
// `defaultCapacity`.
func parseOpSpec(s string, defaultCapacity int) (opSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return opSpec{}, fmt.Errorf("invalid stage %q: want OP[:WORKERS[:CAPACITY]]", s)
	}

	spec := opSpec{
		op:       parts[0],
		workers:  1,
		capacity: defaultCapacity,
	}

	if _, ok := ops[spec.op]; !ok {
		return opSpec{}, fmt.Errorf(
			"unknown operation %q (choose from %s)",
			spec.op, strings.Join(opNames(), ", "),
		)
	}

	if len(parts) > 1 && parts[1] != "" {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 {
			return opSpec{}, fmt.Errorf("invalid worker count %q in stage %q", parts[1], s)
		}
		spec.workers = n
	}

	if len(parts) > 2 && parts[2] != "" {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return opSpec{}, fmt.Errorf("invalid capacity %q in stage %q", parts[2], s)
		}
		spec.capacity = n
	}

	return spec, nil
}
