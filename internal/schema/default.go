package schema

// Node labels of the engram catalogue.
const (
	LabelSession     = "Session"
	LabelTurn        = "Turn"
	LabelReasoning   = "Reasoning"
	LabelToolCall    = "ToolCall"
	LabelObservation = "Observation"
	LabelFileTouch   = "FileTouch"
	LabelMemory      = "Memory"
	LabelEntity      = "Entity"
)

// Edge types of the engram catalogue.
const (
	EdgeHasTurn   = "HAS_TURN"
	EdgeNext      = "NEXT"
	EdgeContains  = "CONTAINS"
	EdgeInvokes   = "INVOKES"
	EdgeTriggers  = "TRIGGERS"
	EdgeTouches   = "TOUCHES"
	EdgeYields    = "YIELDS"
	EdgeReplaces  = "REPLACES"
	EdgeMentions  = "MENTIONS"
	EdgeRelatedTo = "RELATED_TO"
)

// MemoryTypes are the accepted values of a Memory's type field.
var MemoryTypes = []string{"decision", "context", "insight", "preference", "fact"}

// ToolCallStatuses are the accepted values of a ToolCall's status field.
var ToolCallStatuses = []string{"pending", "running", "completed", "failed"}

func floatPtr(f float64) *float64 { return &f }

// Default builds the engram schema: agent-memory artifacts and their
// relationships. It is constructed once at startup; a defect here is a
// programming error, so the caller may treat a non-nil error as fatal.
func Default() (*Registry, error) {
	nodes := []NodeDef{
		{
			Label: LabelSession,
			Fields: map[string]Field{
				"user_id":     {Type: FieldString},
				"started_at":  {Type: FieldTimestamp},
				"agent_type":  {Type: FieldString},
				"working_dir": {Type: FieldString, Optional: true},
				"git_remote":  {Type: FieldString, Optional: true},
				"summary":     {Type: FieldString, Optional: true},
				"embedding":   {Type: FieldArray, Elem: FieldFloat, Optional: true},
			},
		},
		{
			Label: LabelTurn,
			Fields: map[string]Field{
				"sequence_index":   {Type: FieldInt, Min: floatPtr(0)},
				"prompt_preview":   {Type: FieldString, MaxLength: 500},
				"response_preview": {Type: FieldString, MaxLength: 500, Optional: true},
				"tokens_in":        {Type: FieldInt, Min: floatPtr(0)},
				"tokens_out":       {Type: FieldInt, Min: floatPtr(0)},
				"cost_usd":         {Type: FieldFloat, Min: floatPtr(0)},
				"duration_ms":      {Type: FieldInt, Min: floatPtr(0)},
				"files_touched":    {Type: FieldInt, Min: floatPtr(0), Optional: true},
			},
		},
		{
			Label: LabelReasoning,
			Fields: map[string]Field{
				"content_hash":   {Type: FieldString},
				"preview":        {Type: FieldString, MaxLength: 500},
				"sequence_index": {Type: FieldInt, Min: floatPtr(0)},
				"type":           {Type: FieldString, Optional: true},
			},
		},
		{
			Label: LabelToolCall,
			Fields: map[string]Field{
				"call_id":        {Type: FieldString},
				"tool_name":      {Type: FieldString},
				"tool_type":      {Type: FieldString, Optional: true},
				"arguments":      {Type: FieldString, Optional: true},
				"status":         {Type: FieldEnum, Enum: ToolCallStatuses, Default: "pending"},
				"sequence_index": {Type: FieldInt, Min: floatPtr(0)},
			},
		},
		{
			Label: LabelObservation,
			Fields: map[string]Field{
				"tool_call_id": {Type: FieldString},
				"content":      {Type: FieldString},
				"is_error":     {Type: FieldBool, Default: false},
			},
		},
		{
			Label: LabelFileTouch,
			Fields: map[string]Field{
				"path":          {Type: FieldString},
				"action":        {Type: FieldString},
				"tool_call_id":  {Type: FieldString},
				"lines_added":   {Type: FieldInt, Min: floatPtr(0), Optional: true},
				"lines_removed": {Type: FieldInt, Min: floatPtr(0), Optional: true},
			},
		},
		{
			Label: LabelMemory,
			Fields: map[string]Field{
				"content":       {Type: FieldString, MaxLength: 50000},
				"content_hash":  {Type: FieldString},
				"type":          {Type: FieldEnum, Enum: MemoryTypes, Default: "context"},
				"tags":          {Type: FieldArray, Elem: FieldString, Default: []string{}},
				"project":       {Type: FieldString, Optional: true},
				"created_at":    {Type: FieldString},
				"last_accessed": {Type: FieldTimestamp, Optional: true},
				"access_count":  {Type: FieldInt, Min: floatPtr(0), Default: 0},
				"decay_score":   {Type: FieldFloat, Min: floatPtr(0), Max: floatPtr(1), Optional: true},
				"pinned":        {Type: FieldBool, Default: false},
				"embedding":     {Type: FieldArray, Elem: FieldFloat, Optional: true},
			},
		},
		{
			Label: LabelEntity,
			Fields: map[string]Field{
				"name":          {Type: FieldString},
				"aliases":       {Type: FieldArray, Elem: FieldString, Default: []string{}},
				"type":          {Type: FieldString, Optional: true},
				"mention_count": {Type: FieldInt, Min: floatPtr(0), Default: 0},
			},
		},
	}

	edges := []EdgeDef{
		{Type: EdgeHasTurn, From: LabelSession, To: LabelTurn, Cardinality: OneToMany, Temporal: true},
		{Type: EdgeNext, From: LabelTurn, To: LabelTurn, Cardinality: OneToOne, Temporal: true},
		{Type: EdgeContains, From: LabelTurn, To: LabelReasoning, Cardinality: OneToMany, Temporal: true},
		{Type: EdgeInvokes, From: LabelTurn, To: LabelToolCall, Cardinality: OneToMany, Temporal: true},
		{Type: EdgeTriggers, From: LabelReasoning, To: LabelToolCall, Cardinality: OneToMany, Temporal: true},
		{Type: EdgeTouches, From: LabelToolCall, To: LabelFileTouch, Cardinality: OneToMany, Temporal: true},
		{Type: EdgeYields, From: LabelToolCall, To: LabelObservation, Cardinality: OneToOne, Temporal: true},
		{Type: EdgeReplaces, From: LabelMemory, To: LabelMemory, Cardinality: OneToOne, Temporal: true},
		{
			Type: EdgeMentions, From: LabelMemory, To: LabelEntity, Cardinality: ManyToMany, Temporal: true,
			Props: map[string]Field{
				"context":       {Type: FieldString, Optional: true},
				"confidence":    {Type: FieldFloat, Min: floatPtr(0), Max: floatPtr(1)},
				"mention_count": {Type: FieldInt, Min: floatPtr(0), Default: 1},
			},
		},
		{
			Type: EdgeRelatedTo, From: LabelMemory, To: LabelMemory, Cardinality: ManyToMany, Temporal: true,
			Props: map[string]Field{
				"relation": {Type: FieldString, Optional: true},
			},
		},
	}

	return Define(nodes, edges)
}

// IndexedFields lists the per-label fields that tenant provisioning creates
// graph indexes for. Every label gets the id, tenancy and interval-end
// fields; a few labels add their lookup keys.
func (r *Registry) IndexedFields(label string) []string {
	base := []string{"id", "org_id", "vt_start", "vt_end", "tt_end"}
	switch label {
	case LabelMemory:
		return append(base, "content_hash", "type", "project")
	case LabelEntity:
		return append(base, "name")
	case LabelSession:
		return append(base, "user_id")
	default:
		return base
	}
}
