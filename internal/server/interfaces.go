package server

import (
	"github.com/zurustar/sipregistrar/internal/config"
	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/logging"
	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/proxy"
	"github.com/zurustar/sipregistrar/internal/registrar"
	"github.com/zurustar/sipregistrar/internal/sessiontimer"
	"github.com/zurustar/sipregistrar/internal/transaction"
	"github.com/zurustar/sipregistrar/internal/transport"
	"github.com/zurustar/sipregistrar/internal/webadmin"
)

// SIPServer represents the main SIP server that coordinates all components
type SIPServer struct {
	config             *config.Config
	logger             logging.Logger
	transportManager   transport.TransportManager
	messageParser      parser.MessageParser
	transactionManager transaction.TransactionManager
	databaseManager    database.DatabaseManager
	userManager        database.UserManager
	registrar          registrar.Registrar
	proxyEngine        proxy.ProxyEngine
	sessionTimerMgr    sessiontimer.SessionTimerManager
	webAdminServer     webadmin.WebAdminServer
}

// Server defines the interface for the main SIP server
type Server interface {
	Start() error
	Stop() error
	LoadConfig(filename string) error
	RunWithSignalHandling() error
}