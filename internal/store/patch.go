// ABOUTME: Partial session updates with explicit unset, null and value states
// ABOUTME: SessionPatch collects the fields to change and renders a single UPDATE

package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one optional update. The zero value leaves the column untouched.
type Field[T any] struct {
	set   bool
	null  bool
	value T
}

// Set returns a field that writes v.
func Set[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Null returns a field that clears the column.
func Null[T any]() Field[T] {
	return Field[T]{set: true, null: true}
}

// IsSet reports whether the field will be written.
func (f Field[T]) IsSet() bool { return f.set }

// IsNull reports whether the field will clear the column.
func (f Field[T]) IsNull() bool { return f.set && f.null }

// Value returns the value to write and whether there is one.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.set && !f.null
}

func fromPtr[T any](p *T) Field[T] {
	if p == nil {
		return Null[T]()
	}
	return Set(*p)
}

// SessionPatch lists the session fields to change. Build one with Patch.
type SessionPatch struct {
	description   Field[string]
	workingDir    Field[string]
	extensionData Field[ExtensionData]

	totalTokens             Field[int32]
	inputTokens             Field[int32]
	outputTokens            Field[int32]
	accumulatedTotalTokens  Field[int32]
	accumulatedInputTokens  Field[int32]
	accumulatedOutputTokens Field[int32]

	scheduleID Field[string]
	recipe     Field[Recipe]
}

// Patch starts an empty session update.
func Patch() SessionPatch { return SessionPatch{} }

func (p SessionPatch) Description(v string) SessionPatch {
	p.description = Set(v)
	return p
}

func (p SessionPatch) WorkingDir(v string) SessionPatch {
	p.workingDir = Set(v)
	return p
}

func (p SessionPatch) ExtensionData(v ExtensionData) SessionPatch {
	p.extensionData = Set(v)
	return p
}

// TotalTokens sets the counter; nil stores NULL. The other token setters behave the same.
func (p SessionPatch) TotalTokens(v *int32) SessionPatch {
	p.totalTokens = fromPtr(v)
	return p
}

func (p SessionPatch) InputTokens(v *int32) SessionPatch {
	p.inputTokens = fromPtr(v)
	return p
}

func (p SessionPatch) OutputTokens(v *int32) SessionPatch {
	p.outputTokens = fromPtr(v)
	return p
}

func (p SessionPatch) AccumulatedTotalTokens(v *int32) SessionPatch {
	p.accumulatedTotalTokens = fromPtr(v)
	return p
}

func (p SessionPatch) AccumulatedInputTokens(v *int32) SessionPatch {
	p.accumulatedInputTokens = fromPtr(v)
	return p
}

func (p SessionPatch) AccumulatedOutputTokens(v *int32) SessionPatch {
	p.accumulatedOutputTokens = fromPtr(v)
	return p
}

// ScheduleID sets the schedule reference; nil clears it.
func (p SessionPatch) ScheduleID(v *string) SessionPatch {
	p.scheduleID = fromPtr(v)
	return p
}

// Recipe sets the recipe document; nil clears it.
func (p SessionPatch) Recipe(v Recipe) SessionPatch {
	if v == nil {
		p.recipe = Null[Recipe]()
	} else {
		p.recipe = Set(v)
	}
	return p
}

// Empty reports whether the patch changes nothing.
func (p SessionPatch) Empty() bool {
	return !p.description.set && !p.workingDir.set && !p.extensionData.set &&
		!p.totalTokens.set && !p.inputTokens.set && !p.outputTokens.set &&
		!p.accumulatedTotalTokens.set && !p.accumulatedInputTokens.set && !p.accumulatedOutputTokens.set &&
		!p.scheduleID.set && !p.recipe.set
}

type assignment struct {
	column string
	arg    any
}

func fieldArg[T any](f Field[T]) any {
	if f.null {
		return nil
	}
	return f.value
}

// assignments renders the set fields as column bindings, in column order.
func (p SessionPatch) assignments() ([]assignment, error) {
	var out []assignment
	add := func(set bool, column string, arg any) {
		if set {
			out = append(out, assignment{column, arg})
		}
	}

	add(p.description.set, "description", p.description.value)
	add(p.workingDir.set, "working_dir", p.workingDir.value)
	if p.extensionData.set {
		data := p.extensionData.value
		if data == nil {
			data = ExtensionData{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, &SerializationError{Field: "extension_data", Err: err}
		}
		out = append(out, assignment{"extension_data", string(raw)})
	}
	add(p.totalTokens.set, "total_tokens", fieldArg(p.totalTokens))
	add(p.inputTokens.set, "input_tokens", fieldArg(p.inputTokens))
	add(p.outputTokens.set, "output_tokens", fieldArg(p.outputTokens))
	add(p.accumulatedTotalTokens.set, "accumulated_total_tokens", fieldArg(p.accumulatedTotalTokens))
	add(p.accumulatedInputTokens.set, "accumulated_input_tokens", fieldArg(p.accumulatedInputTokens))
	add(p.accumulatedOutputTokens.set, "accumulated_output_tokens", fieldArg(p.accumulatedOutputTokens))
	add(p.scheduleID.set, "schedule_id", fieldArg(p.scheduleID))
	if p.recipe.set {
		if p.recipe.null {
			out = append(out, assignment{"recipe_json", nil})
		} else {
			if !json.Valid(p.recipe.value) {
				return nil, &SerializationError{Field: "recipe_json", Err: fmt.Errorf("invalid JSON document")}
			}
			out = append(out, assignment{"recipe_json", string(p.recipe.value)})
		}
	}
	return out, nil
}

// updateSQL renders the UPDATE statement for the patch, touching updated_at.
func (p SessionPatch) updateSQL(id string) (string, []any, error) {
	assigns, err := p.assignments()
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, 0, len(assigns)+1)
	args := make([]any, 0, len(assigns)+1)
	for _, a := range assigns {
		sets = append(sets, a.column+" = ?")
		args = append(args, a.arg)
	}
	sets = append(sets, "updated_at = "+sqlNow)
	args = append(args, id)
	return "UPDATE sessions SET " + strings.Join(sets, ", ") + " WHERE id = ?", args, nil
}

// apply writes the patch onto an in-memory session.
func (p SessionPatch) apply(s *Session) {
	if v, ok := p.description.Value(); ok {
		s.Description = v
	}
	if v, ok := p.workingDir.Value(); ok {
		s.WorkingDir = v
	}
	if v, ok := p.extensionData.Value(); ok {
		if v == nil {
			v = ExtensionData{}
		}
		s.ExtensionData = v
	}
	applyInt32(&s.TotalTokens, p.totalTokens)
	applyInt32(&s.InputTokens, p.inputTokens)
	applyInt32(&s.OutputTokens, p.outputTokens)
	applyInt32(&s.AccumulatedTotalTokens, p.accumulatedTotalTokens)
	applyInt32(&s.AccumulatedInputTokens, p.accumulatedInputTokens)
	applyInt32(&s.AccumulatedOutputTokens, p.accumulatedOutputTokens)
	if p.scheduleID.set {
		if v, ok := p.scheduleID.Value(); ok {
			s.ScheduleID = &v
		} else {
			s.ScheduleID = nil
		}
	}
	if p.recipe.set {
		if v, ok := p.recipe.Value(); ok {
			s.Recipe = append(Recipe(nil), v...)
		} else {
			s.Recipe = nil
		}
	}
}

func applyInt32(dst **int32, f Field[int32]) {
	if !f.set {
		return
	}
	if v, ok := f.Value(); ok {
		*dst = &v
		return
	}
	*dst = nil
}
