package request

import (
	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/value"
	"github.com/scorep-tools/tracecost/internal/wire"
)

// --- Disconnect ---

// DisconnectReq asks the server to acknowledge and close the connection.
type DisconnectReq struct{}

func (r *DisconnectReq) ID() ID                                  { return IDDisconnect }
func (r *DisconnectReq) DecodeRequest(*wire.Reader) error        { return nil }
func (r *DisconnectReq) Execute(Session) error                   { return nil }
func (r *DisconnectReq) EncodeResponse(*wire.Writer) error       { return nil }
func (r *DisconnectReq) EncodeRequest(*wire.Writer) error        { return nil }
func (r *DisconnectReq) DecodeResponse(*wire.Reader) error       { return nil }

// --- NegotiateProtocol ---

// NegotiateProtocolReq sets the protocol version on both sides (spec
// §4.7): the server replies with min(maxServerVersion, maxClientVersion).
type NegotiateProtocolReq struct {
	MaxClientVersion  uint32
	MaxServerVersion  uint32 // server-side input, not wire-carried
	NegotiatedVersion uint32
}

func (r *NegotiateProtocolReq) ID() ID { return IDNegotiateProtocol }

func (r *NegotiateProtocolReq) DecodeRequest(rd *wire.Reader) error {
	v, err := rd.Uint32()
	r.MaxClientVersion = v
	return err
}

func (r *NegotiateProtocolReq) Execute(s Session) error {
	r.NegotiatedVersion = min32(r.MaxServerVersion, r.MaxClientVersion)
	return nil
}

func (r *NegotiateProtocolReq) EncodeResponse(w *wire.Writer) error {
	return w.Uint32(r.NegotiatedVersion)
}

func (r *NegotiateProtocolReq) EncodeRequest(w *wire.Writer) error {
	return w.Uint32(r.MaxClientVersion)
}

func (r *NegotiateProtocolReq) DecodeResponse(rd *wire.Reader) error {
	v, err := rd.Uint32()
	r.NegotiatedVersion = v
	return err
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// --- ClientServerVersion ---

// ClientServerVersionReq exchanges human-readable version strings.
type ClientServerVersionReq struct {
	ClientVersion string
	ServerVersion string
}

func (r *ClientServerVersionReq) ID() ID { return IDClientServerVersion }

func (r *ClientServerVersionReq) DecodeRequest(rd *wire.Reader) error {
	s, err := rd.String()
	r.ClientVersion = s
	return err
}

func (r *ClientServerVersionReq) Execute(s Session) error { return nil }

func (r *ClientServerVersionReq) EncodeResponse(w *wire.Writer) error {
	return w.String(r.ServerVersion)
}

func (r *ClientServerVersionReq) EncodeRequest(w *wire.Writer) error {
	return w.String(r.ClientVersion)
}

func (r *ClientServerVersionReq) DecodeResponse(rd *wire.Reader) error {
	s, err := rd.String()
	r.ServerVersion = s
	return err
}

// --- OpenCube ---

// OpenCubeReq asks the server to open a named local report (spec §4.8:
// failure is recoverable).
type OpenCubeReq struct {
	Path string
}

func (r *OpenCubeReq) ID() ID                            { return IDOpenCube }
func (r *OpenCubeReq) DecodeRequest(rd *wire.Reader) error {
	s, err := rd.String()
	r.Path = s
	return err
}
func (r *OpenCubeReq) Execute(s Session) error           { return s.OpenCube(r.Path) }
func (r *OpenCubeReq) EncodeResponse(*wire.Writer) error { return nil }
func (r *OpenCubeReq) EncodeRequest(w *wire.Writer) error { return w.String(r.Path) }
func (r *OpenCubeReq) DecodeResponse(*wire.Reader) error { return nil }

// --- CloseCube ---

type CloseCubeReq struct{}

func (r *CloseCubeReq) ID() ID                            { return IDCloseCube }
func (r *CloseCubeReq) DecodeRequest(*wire.Reader) error  { return nil }
func (r *CloseCubeReq) Execute(s Session) error           { s.CloseCube(); return nil }
func (r *CloseCubeReq) EncodeResponse(*wire.Writer) error { return nil }
func (r *CloseCubeReq) EncodeRequest(*wire.Writer) error  { return nil }
func (r *CloseCubeReq) DecodeResponse(*wire.Reader) error { return nil }

// --- SaveCube ---

// SaveCubeReq asks the server to write a copy of its in-memory report.
type SaveCubeReq struct {
	Path string
}

func (r *SaveCubeReq) ID() ID { return IDSaveCube }
func (r *SaveCubeReq) DecodeRequest(rd *wire.Reader) error {
	s, err := rd.String()
	r.Path = s
	return err
}
func (r *SaveCubeReq) Execute(s Session) error           { return s.SaveCube(r.Path) }
func (r *SaveCubeReq) EncodeResponse(*wire.Writer) error { return nil }
func (r *SaveCubeReq) EncodeRequest(w *wire.Writer) error { return w.String(r.Path) }
func (r *SaveCubeReq) DecodeResponse(*wire.Reader) error { return nil }

// --- DefineMetric ---

// DefineMetricReq validates and installs a derived metric; the
// response echoes whether installation succeeded (spec §4.8).
type DefineMetricReq struct {
	Def       report.MetricDefinition
	MetricID  uint32
	Installed bool
}

func (r *DefineMetricReq) ID() ID { return IDDefineMetric }

func (r *DefineMetricReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.Def.Name, err = rd.String(); err != nil {
		return err
	}
	if r.Def.DisplayName, err = rd.String(); err != nil {
		return err
	}
	dt, err := rd.Uint32()
	if err != nil {
		return err
	}
	r.Def.DataType = value.Type(dt)
	if r.Def.Unit, err = rd.String(); err != nil {
		return err
	}
	if r.Def.Description, err = rd.String(); err != nil {
		return err
	}
	if r.Def.InitExpr, err = rd.String(); err != nil {
		return err
	}
	if r.Def.PlusExpr, err = rd.String(); err != nil {
		return err
	}
	if r.Def.MinusExpr, err = rd.String(); err != nil {
		return err
	}
	r.Def.AggrExpr, err = rd.String()
	return err
}

func (r *DefineMetricReq) Execute(s Session) error {
	id, err := s.DefineMetric(r.Def)
	if err != nil {
		return err
	}
	r.MetricID = uint32(id)
	r.Installed = true
	return nil
}

func (r *DefineMetricReq) EncodeResponse(w *wire.Writer) error {
	if err := w.Uint32(r.MetricID); err != nil {
		return err
	}
	return writeBool(w, r.Installed)
}

func (r *DefineMetricReq) EncodeRequest(w *wire.Writer) error {
	fields := []string{r.Def.Name, r.Def.DisplayName}
	for _, f := range fields {
		if err := w.String(f); err != nil {
			return err
		}
	}
	if err := w.Uint32(uint32(r.Def.DataType)); err != nil {
		return err
	}
	rest := []string{r.Def.Unit, r.Def.Description, r.Def.InitExpr, r.Def.PlusExpr, r.Def.MinusExpr, r.Def.AggrExpr}
	for _, f := range rest {
		if err := w.String(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *DefineMetricReq) DecodeResponse(rd *wire.Reader) error {
	id, err := rd.Uint32()
	if err != nil {
		return err
	}
	r.MetricID = id
	r.Installed, err = readBool(rd)
	return err
}

func writeBool(w *wire.Writer, b bool) error {
	var v uint32
	if b {
		v = 1
	}
	return w.Uint32(v)
}

func readBool(r *wire.Reader) (bool, error) {
	v, err := r.Uint32()
	return v != 0, err
}

// --- MiscData ---

// MiscDataReq fetches an opaque blob by key; a missing key returns an
// empty slice (spec §4.8).
type MiscDataReq struct {
	Name string
	Data []byte
}

func (r *MiscDataReq) ID() ID { return IDMiscData }
func (r *MiscDataReq) DecodeRequest(rd *wire.Reader) error {
	s, err := rd.String()
	r.Name = s
	return err
}
func (r *MiscDataReq) Execute(s Session) error {
	r.Data = s.MiscData(r.Name)
	return nil
}
func (r *MiscDataReq) EncodeResponse(w *wire.Writer) error {
	if err := w.Uint32(uint32(len(r.Data))); err != nil {
		return err
	}
	return w.Bytes(r.Data)
}
func (r *MiscDataReq) EncodeRequest(w *wire.Writer) error { return w.String(r.Name) }
func (r *MiscDataReq) DecodeResponse(rd *wire.Reader) error {
	n, err := rd.Uint32()
	if err != nil {
		return err
	}
	r.Data, err = rd.Bytes(int(n))
	return err
}

// --- FileSystem ---

// FileSystemReq lets the client browse remote directories before
// choosing a file to open (spec §4.8).
type FileSystemReq struct {
	Path    string
	Entries []FileEntry
}

func (r *FileSystemReq) ID() ID { return IDFileSystem }
func (r *FileSystemReq) DecodeRequest(rd *wire.Reader) error {
	s, err := rd.String()
	r.Path = s
	return err
}
func (r *FileSystemReq) Execute(s Session) error {
	entries, err := s.FileSystem(r.Path)
	if err != nil {
		return err
	}
	r.Entries = entries
	return nil
}
func (r *FileSystemReq) EncodeResponse(w *wire.Writer) error {
	if err := w.Uint32(uint32(len(r.Entries))); err != nil {
		return err
	}
	for _, e := range r.Entries {
		if err := w.String(e.Name); err != nil {
			return err
		}
		if err := writeBool(w, e.IsDirectory); err != nil {
			return err
		}
		if err := w.Int64(e.Size); err != nil {
			return err
		}
		if err := w.Int64(e.ModTime); err != nil {
			return err
		}
	}
	return nil
}
func (r *FileSystemReq) EncodeRequest(w *wire.Writer) error { return w.String(r.Path) }
func (r *FileSystemReq) DecodeResponse(rd *wire.Reader) error {
	n, err := rd.Uint32()
	if err != nil {
		return err
	}
	r.Entries = make([]FileEntry, n)
	for i := range r.Entries {
		e := &r.Entries[i]
		if e.Name, err = rd.String(); err != nil {
			return err
		}
		if e.IsDirectory, err = readBool(rd); err != nil {
			return err
		}
		if e.Size, err = rd.Int64(); err != nil {
			return err
		}
		if e.ModTime, err = rd.Int64(); err != nil {
			return err
		}
	}
	return nil
}

// --- Version ---

// VersionReq returns the server's numeric library version.
type VersionReq struct {
	LibraryVersion int32
}

func (r *VersionReq) ID() ID                           { return IDVersion }
func (r *VersionReq) DecodeRequest(*wire.Reader) error { return nil }
func (r *VersionReq) Execute(s Session) error {
	r.LibraryVersion = s.LibraryVersion()
	return nil
}
func (r *VersionReq) EncodeResponse(w *wire.Writer) error { return w.Int32(r.LibraryVersion) }
func (r *VersionReq) EncodeRequest(*wire.Writer) error    { return nil }
func (r *VersionReq) DecodeResponse(rd *wire.Reader) error {
	v, err := rd.Int32()
	r.LibraryVersion = v
	return err
}
