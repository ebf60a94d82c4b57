package domain

import (
	"fmt"
	"strconv"
)

// ─── Transfer Specification ─────────────────────────────────────────────────
// A TransferSpec is everything the transmitter needs for one invocation.
// Specs are built fresh for every attempt and never mutated afterwards.

// TransmitType selects the transmitter operation.
type TransmitType string

const (
	TransmitUploadPath   TransmitType = "upload_path"
	TransmitUploadJSON   TransmitType = "upload_json"
	TransmitUploadList   TransmitType = "upload_list"
	TransmitDownloadPath TransmitType = "download_path"
)

// IsUpload returns true for the upload transmit types.
func (t TransmitType) IsUpload() bool {
	return t == TransmitUploadPath || t == TransmitUploadJSON || t == TransmitUploadList
}

// Bid names the remote storage collection a transfer targets.
type Bid string

const (
	BidConfig Bid = "config_bid"
	BidInput  Bid = "input_bid"
	BidOutput Bid = "output_bid"
)

// Engine is the transfer engine the transmitter drives.
type Engine string

const (
	EngineAspera  Engine = "aspera"
	EngineRaysync Engine = "raysync"
)

// Valid reports whether the engine is supported.
func (e Engine) Valid() bool {
	return e == EngineAspera || e == EngineRaysync
}

// NetworkMode selects the transport protocol.
type NetworkMode int

const (
	NetworkAuto NetworkMode = 0
	NetworkTCP  NetworkMode = 1
	NetworkUDP  NetworkMode = 2
)

// Valid reports whether the mode is one of the known values.
func (m NetworkMode) Valid() bool {
	return m >= NetworkAuto && m <= NetworkUDP
}

// DefaultMaxSpeed is 1 GB/s expressed in KB/s.
const DefaultMaxSpeed = "1048576"

// TransferSpec describes a single transmitter invocation.
type TransferSpec struct {
	Type           TransmitType
	LocalPath      string
	RemotePaths    []string
	MaxSpeed       string // KB/s
	FilenameFormat bool   // prefix downloads with task id and scene name
	Bid            Bid
	Engine         Engine
	ServerHost     string
	ServerPort     string
	Network        NetworkMode
	DBIniPath      string
	ParentUserID   string
	ParentInputBid string
}

// Speed returns MaxSpeed or the default.
func (s TransferSpec) Speed() string {
	if s.MaxSpeed == "" {
		return DefaultMaxSpeed
	}
	return s.MaxSpeed
}

// FormatFlag renders FilenameFormat the way the transmitter expects it.
func (s TransferSpec) FormatFlag() string {
	return strconv.FormatBool(s.FilenameFormat)
}

// TransferOptions are the caller-facing knobs shared by every transfer a
// run performs. They are copied into each TransferSpec.
type TransferOptions struct {
	MaxSpeed       string
	FilenameFormat bool
	Engine         Engine
	ServerHost     string
	ServerPort     string
	Network        NetworkMode
}

// Apply copies the options onto a spec. FilenameFormat is left to the
// caller: uploads always send false.
func (o TransferOptions) Apply(spec TransferSpec) TransferSpec {
	spec.MaxSpeed = o.MaxSpeed
	spec.Engine = o.Engine
	spec.ServerHost = o.ServerHost
	spec.ServerPort = o.ServerPort
	spec.Network = o.Network
	if spec.Engine == "" {
		spec.Engine = EngineAspera
	}
	return spec
}

// Validate rejects options the transmitter cannot accept.
func (o TransferOptions) Validate() error {
	if o.Engine != "" && !o.Engine.Valid() {
		return &ConfigError{Field: "engine_type", Value: string(o.Engine)}
	}
	if !o.Network.Valid() {
		return &ConfigError{Field: "network_mode", Value: fmt.Sprint(int(o.Network))}
	}
	return nil
}
