// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

// Type identifies the kind of a Command.
type Type int

const (
	TypeConnect Type = iota
	TypeConnected
	TypeLookup
	TypeLookupResponse
	TypePartitionedMetadata
	TypePartitionedMetadataResponse
	TypeGetSchema
	TypeGetSchemaResponse
	TypeGetOrCreateSchema
	TypeGetOrCreateSchemaResponse
	TypeSend
	TypeMessage
	TypeAck
	TypePing
	TypePong
	TypeError
	TypeCloseConnection
)

// dataPlaneTypes are the command kinds that carry an actual message
// payload and trigger the switch to direct-proxy (splice) mode. Ping/Pong
// are keep-alives and stay on the control plane: they must be serviceable
// while a connection is still in ProxyLookupRequests, before any topic has
// been looked up.
var dataPlaneTypes = map[Type]bool{
	TypeSend:    true,
	TypeMessage: true,
	TypeAck:     true,
}

// IsDataPlane reports whether t is forwarded verbatim in direct-proxy mode
// rather than serviced by the lookup path.
func (t Type) IsDataPlane() bool {
	return dataPlaneTypes[t]
}

// Command is the tagged union carried by every frame's header. Only the
// fields relevant to Type are populated; cbor omits zero-value fields with
// omitempty so the wire encoding stays compact.
type Command struct {
	Type Type `cbor:"1,keyasint"`

	// Connect
	AuthMethod string `cbor:"2,keyasint,omitempty"`
	AuthData   []byte `cbor:"3,keyasint,omitempty"`
	ClientVersion string `cbor:"4,keyasint,omitempty"`

	// Connected / Error
	ProtocolVersion int32  `cbor:"5,keyasint,omitempty"`
	ErrorKind       string `cbor:"6,keyasint,omitempty"`
	ErrorMessage    string `cbor:"7,keyasint,omitempty"`

	// Lookup / PartitionedMetadata
	Topic         string `cbor:"8,keyasint,omitempty"`
	RequestID     uint64 `cbor:"9,keyasint,omitempty"`
	Authoritative bool   `cbor:"10,keyasint,omitempty"`

	// LookupResponse
	BrokerServiceURL      string `cbor:"11,keyasint,omitempty"`
	BrokerServiceURLTLS    string `cbor:"12,keyasint,omitempty"`
	ProxyThroughServiceURL int    `cbor:"13,keyasint,omitempty"` // 0=unset,1=client connects to the broker directly,2=this proxy splices the data plane

	// PartitionedMetadataResponse
	Partitions int32 `cbor:"14,keyasint,omitempty"`

	// GetSchema / GetOrCreateSchema
	SchemaVersion []byte `cbor:"15,keyasint,omitempty"`
	SchemaData    []byte `cbor:"16,keyasint,omitempty"`
	SchemaType    string `cbor:"17,keyasint,omitempty"`

	// Send / Message
	ProducerID uint64 `cbor:"18,keyasint,omitempty"`
	SequenceID uint64 `cbor:"19,keyasint,omitempty"`
	MessageID  uint64 `cbor:"20,keyasint,omitempty"`

	// Ack
	ConsumerID uint64 `cbor:"21,keyasint,omitempty"`
}
