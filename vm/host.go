package vm

// ---------------------------------------------------------------------------
// Host: capabilities the VM consumes from the simulation
// ---------------------------------------------------------------------------

// Entity is an opaque reference to a world entity, such as the actor that
// triggered a script. The VM never inspects it; it only hands it back to the
// host and persists it through Host.EntityHandle.
type Entity any

// TagKind selects the predicate evaluated by Host.CheckTag.
type TagKind int

const (
	TagSector     TagKind = iota // sectors carrying the tag
	TagPolyobject                // a polyobject by id
)

// Channel is a hint for where printed text should appear.
type Channel int

const (
	ChannelPlayer Channel = iota // ordinary script message
	ChannelBold                  // message to every player, emphasized
	ChannelError                 // diagnostic for a fatal script error
)

// GameProperty names a read-only value queried by the GAME* and TIMER
// instructions.
type GameProperty int

const (
	PropSkill GameProperty = iota
	PropGameType
	PropScreenWidth
	PropScreenHeight
	PropLevelTime
)

// Host is the narrow interface through which the VM reaches the world. A
// thread passed to a method is the thread executing the instruction; hosts
// read its Trigger, Line and Side for context.
type Host interface {
	// ExecSpecial runs a numbered side-effecting operation.
	ExecSpecial(spec int32, args []int32, th *Thread) int32
	// CallFunc runs a numbered host function. The returned values are
	// pushed onto the thread's operand stack in order.
	CallFunc(fn int32, args []int32, th *Thread) []int32
	// CheckTag reports whether a wait on tag is satisfied, that is, no
	// element it names has a move or animation in progress.
	CheckTag(kind TagKind, tag int32) bool
	// LoadModule resolves a module name to its image. It returns an error
	// wrapping ErrModuleNotFound when the name is unknown.
	LoadModule(name string) ([]byte, error)

	Message(text string, ch Channel, th *Thread)
	Log(text string)

	PlayerCount() int32
	// PlayerName returns the display name of player n (1-based). Player 0
	// is the console.
	PlayerName(n int32) (string, bool)
	GameProperty(p GameProperty) int32
	LevelProperty(prop int32) int32

	ThingProperty(tid, prop int32, th *Thread) int32
	SetThingProperty(tid, prop, value int32, th *Thread)
	CheckThingProperty(tid, prop, value int32, th *Thread) int32

	LineOffsetY(line int32) int32
	ClearLineSpecial(line int32)
	SetGravity(g int32)

	// EntityHandle and EntityByHandle convert triggers to and from the
	// numeric form stored in archives. Handle 0 is the nil entity.
	EntityHandle(e Entity) uint32
	EntityByHandle(h uint32) Entity
}

// NopHost implements Host with inert results. Embed it to implement only the
// methods a host cares about.
type NopHost struct{}

var _ Host = NopHost{}

func (NopHost) ExecSpecial(int32, []int32, *Thread) int32 { return 0 }
func (NopHost) CallFunc(int32, []int32, *Thread) []int32  { return nil }
func (NopHost) CheckTag(TagKind, int32) bool              { return true }

func (NopHost) LoadModule(name string) ([]byte, error) {
	return nil, ErrModuleNotFound
}

func (NopHost) Message(string, Channel, *Thread) {}
func (NopHost) Log(string)                       {}

func (NopHost) PlayerCount() int32                              { return 0 }
func (NopHost) PlayerName(int32) (string, bool)                 { return "", false }
func (NopHost) GameProperty(GameProperty) int32                 { return 0 }
func (NopHost) LevelProperty(int32) int32                       { return 0 }
func (NopHost) ThingProperty(int32, int32, *Thread) int32       { return 0 }
func (NopHost) SetThingProperty(int32, int32, int32, *Thread)   {}
func (NopHost) CheckThingProperty(int32, int32, int32, *Thread) int32 {
	return 0
}

func (NopHost) LineOffsetY(int32) int32 { return 0 }
func (NopHost) ClearLineSpecial(int32)  {}
func (NopHost) SetGravity(int32)        {}

func (NopHost) EntityHandle(Entity) uint32   { return 0 }
func (NopHost) EntityByHandle(uint32) Entity { return nil }
