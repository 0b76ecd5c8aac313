package lowering

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// PlanSchema is the layout of the record built by PlanRecord: one row per
// stage.
var PlanSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "op", Type: arrow.BinaryTypes.String},
		{Name: "stage", Type: arrow.PrimitiveTypes.Int32},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "signature", Type: arrow.BinaryTypes.String},
		{Name: "input_shape", Type: arrow.BinaryTypes.String},
		{Name: "output_shape", Type: arrow.BinaryTypes.String},
		{Name: "output_type", Type: arrow.BinaryTypes.String},
		{Name: "output_bytes", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "modes", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "selected_mode", Type: arrow.BinaryTypes.String},
	},
	nil,
)

// PlanRecord describes the stages of every layer as an Arrow record. The
// selected mode column holds the mode ModeAuto would run on this engine,
// or null when no supported mode is in the stage's kernel table.
func PlanRecord(mem memory.Allocator, layers ...*Layer) arrow.RecordBatch {
	opB := array.NewStringBuilder(mem)
	stageB := array.NewInt32Builder(mem)
	kindB := array.NewStringBuilder(mem)
	sigB := array.NewStringBuilder(mem)
	inB := array.NewStringBuilder(mem)
	outB := array.NewStringBuilder(mem)
	typeB := array.NewStringBuilder(mem)
	bytesB := array.NewUint64Builder(mem)
	modesB := array.NewListBuilder(mem, arrow.BinaryTypes.String)
	modeValues := modesB.ValueBuilder().(*array.StringBuilder)
	selB := array.NewStringBuilder(mem)
	builders := []array.Builder{opB, stageB, kindB, sigB, inB, outB, typeB, bytesB, modesB, selB}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	rows := 0
	for _, l := range layers {
		det := l.engine.Detector()
		for i, s := range l.pipeline.Stages {
			opB.Append(l.kind.String())
			stageB.Append(int32(i))
			kindB.Append(s.Kind.String())
			sigB.Append(s.Table.Signature.String())
			inB.Append(s.Input.Shape.String())
			outB.Append(s.Output.Shape.String())
			typeB.Append(s.Output.Mode.Type.String())
			bytesB.Append(s.Output.Size)

			modesB.Append(true)
			var selected string
			for _, m := range s.Table.Modes() {
				modeValues.Append(m.String())
				if det.IsSupported(m) {
					selected = m.String()
				}
			}
			if selected == "" {
				selB.AppendNull()
			} else {
				selB.Append(selected)
			}
			rows++
		}
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(PlanSchema, cols, int64(rows))
}
