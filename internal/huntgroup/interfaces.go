// Package huntgroup defines the call-routing types the proxy layer
// forwards INVITEs through. The Location Service Core never calls into
// this package directly; internal/proxy holds it only as an interface
// collaborator (spec.md section 1's "surrounding proxy"), the same way
// it holds transaction.Transaction.
package huntgroup

import (
	"time"

	"github.com/zurustar/sipregistrar/internal/parser"
)

// HuntGroupStrategy selects how a group rings its members.
type HuntGroupStrategy string

const (
	StrategySimultaneous HuntGroupStrategy = "simultaneous"
	StrategySequential   HuntGroupStrategy = "sequential"
	StrategyRoundRobin   HuntGroupStrategy = "round_robin"
	StrategyLongestIdle  HuntGroupStrategy = "longest_idle"
)

// HuntGroup is a named set of members reachable through one extension.
type HuntGroup struct {
	ID          int
	Name        string
	Extension   string
	Strategy    HuntGroupStrategy
	RingTimeout int
	Enabled     bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []*HuntGroupMember
}

// HuntGroupMember is one ring target inside a HuntGroup.
type HuntGroupMember struct {
	ID        int
	GroupID   int
	Extension string
	Priority  int
	Enabled   bool
	Timeout   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallSessionStatus is the lifecycle state of a CallSession.
type CallSessionStatus string

const (
	SessionStatusRinging   CallSessionStatus = "ringing"
	SessionStatusAnswered  CallSessionStatus = "answered"
	SessionStatusCancelled CallSessionStatus = "cancelled"
	SessionStatusFailed    CallSessionStatus = "failed"
	SessionStatusCompleted CallSessionStatus = "completed"
)

// CallSession is one in-progress call routed to a HuntGroup.
type CallSession struct {
	ID             string
	GroupID        int
	CallerURI      string
	OriginalINVITE *parser.SIPMessage
	StartTime      time.Time
	Status         CallSessionStatus
	AnsweredBy     string
	AnsweredAt     *time.Time
}

// CallStatistics summarizes a HuntGroup's recent call handling.
type CallStatistics struct {
	GroupID           int
	TotalCalls        int
	AnsweredCalls     int
	MissedCalls       int
	AverageRingTime   time.Duration
	AverageCallLength time.Duration
	BusiestMember     string
	LastCallTime      *time.Time
}

// HuntGroupManager manages hunt group configuration and membership.
type HuntGroupManager interface {
	CreateGroup(group *HuntGroup) error
	GetGroup(id int) (*HuntGroup, error)
	GetGroupByExtension(extension string) (*HuntGroup, error)
	UpdateGroup(group *HuntGroup) error
	DeleteGroup(id int) error
	ListGroups() ([]*HuntGroup, error)
	EnableGroup(groupID int) error
	DisableGroup(groupID int) error

	AddMember(groupID int, member *HuntGroupMember) error
	RemoveMember(groupID int, memberID int) error
	UpdateMember(member *HuntGroupMember) error
	GetGroupMembers(groupID int) ([]*HuntGroupMember, error)
	EnableMember(groupID int, memberID int) error
	DisableMember(groupID int, memberID int) error

	CreateSession(session *CallSession) error
	GetSession(sessionID string) (*CallSession, error)
	UpdateSession(session *CallSession) error
	EndSession(sessionID string) error
	GetActiveSessions() ([]*CallSession, error)

	GetCallStatistics(groupID int) (*CallStatistics, error)
}

// HuntGroupEngine processes an incoming call against a HuntGroup.
type HuntGroupEngine interface {
	ProcessIncomingCall(invite *parser.SIPMessage, group *HuntGroup) (*CallSession, error)
	HandleMemberResponse(sessionID string, memberExtension string, response *parser.SIPMessage) error
	CancelSession(sessionID string) error
	GetCallStatistics(groupID int) (*CallStatistics, error)
}
