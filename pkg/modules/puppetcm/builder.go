// Package puppetcm declares the resource catalog for managing a Puppet
// agent, and optionally a Puppet master with stored configuration, on a
// single node. Which resources end up in the catalog depends entirely on
// the run configuration; the convergence engine never sees the
// conditional logic, only the finished graph.
package puppetcm

import (
	"fmt"
	"path/filepath"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/resources"
)

// Resource titles used throughout the catalog.
const (
	PackagePuppet       = "puppet"
	PackagePuppetMaster = "puppetmaster"
	PackageApache       = "apache2"
	PackagePassenger    = "libapache2-mod-passenger"
	PackageRails        = "rails"
	PackageMySQLServer  = "mysql-server"
	PackageRubyMySQL    = "libmysql-ruby"
	PackageSqlite       = "sqlite3"
	PackageRubySqlite   = "libsqlite3-ruby"

	ServiceAgent  = "puppet"
	ServiceMaster = "puppetmaster"
	ServiceApache = "apache2"

	ConfTarget = "puppet.conf"
)

// Fragment order keys. Lexical ordering of these strings is the assembly
// order of puppet.conf.
const (
	orderMain         = "00"
	orderAgent        = "10"
	orderMaster       = "20"
	orderStoreConfigs = "30"
)

type builder struct {
	cfg *config.RunConfig
	cb  *engine.CatalogBuilder

	confRef engine.Ref

	// notifyTarget is the single service that owns reacting to
	// puppet.conf changes for this catalog.
	notifyTarget engine.Ref
}

// Build translates a run configuration into a resource catalog. The
// returned catalog always contains the agent resources; the master and
// stored-configuration subtrees are included only when the configuration
// asks for them.
func Build(cfg *config.RunConfig, opts ...engine.BuilderOption) (*engine.Catalog, error) {
	b := &builder{
		cfg: cfg,
		cb:  engine.NewCatalogBuilder(opts...),
	}

	if err := b.declareAgent(); err != nil {
		return nil, err
	}
	if cfg.Master.Enabled {
		if err := b.declareMaster(); err != nil {
			return nil, err
		}
		if cfg.StoreConfigs.Enabled {
			if err := b.declareStoreConfigs(); err != nil {
				return nil, err
			}
		}
	}

	// puppet.conf is the only configuration file; its assembled concat
	// resource notifies exactly one service per catalog.
	if err := b.cb.Notify(b.confRef, b.notifyTarget); err != nil {
		return nil, err
	}

	return b.cb.Build()
}

// declareAgent declares the resources every node gets: the puppet
// package, the puppet.conf concat target with its [main] and [agent]
// fragments, and the agent service.
func (b *builder) declareAgent() error {
	pkgAttrs := map[string]any{"ensure": "present"}
	if b.cfg.Version != "" {
		pkgAttrs["version"] = b.cfg.Version
	}
	pkg, err := b.cb.Declare(resources.KindPackage, PackagePuppet, pkgAttrs)
	if err != nil {
		return err
	}

	conf, err := b.cb.Declare(resources.KindConcat, ConfTarget, map[string]any{
		"path":  filepath.Join(b.cfg.ConfDir, "puppet.conf"),
		"mode":  "0644",
		"owner": "root",
		"group": "root",
	})
	if err != nil {
		return err
	}
	b.confRef = conf.Ref

	svc, err := b.cb.Declare(resources.KindService, ServiceAgent, map[string]any{
		"ensure": b.cfg.Agent.Ensure,
		"enable": b.cfg.Agent.Ensure == "running",
	})
	if err != nil {
		return err
	}
	b.notifyTarget = svc.Ref

	if err := b.cb.Require(pkg.Ref, conf.Ref); err != nil {
		return err
	}
	if err := b.cb.Require(pkg.Ref, svc.Ref); err != nil {
		return err
	}
	if err := b.cb.Require(conf.Ref, svc.Ref); err != nil {
		return err
	}

	mainContent, err := render("main", map[string]string{
		"ConfDir":  b.cfg.ConfDir,
		"Certname": b.cfg.Certname,
	})
	if err != nil {
		return err
	}
	if err := b.cb.Fragment(ConfTarget, orderMain, "main", mainContent); err != nil {
		return err
	}

	agentContent, err := render("agent", map[string]string{
		"Server":      b.cfg.Agent.Server,
		"Environment": b.cfg.Agent.Environment,
	})
	if err != nil {
		return err
	}
	return b.cb.Fragment(ConfTarget, orderAgent, "agent", agentContent)
}

// declareMaster declares the master package, the [master] fragment, and
// the service-management resources for the selected deployment mode. The
// two modes are mutually exclusive: with passenger the master runs inside
// Apache and the direct daemon is pinned stopped, so exactly one managed
// service ever owns the master process.
func (b *builder) declareMaster() error {
	pkg, err := b.cb.Declare(resources.KindPackage, PackagePuppetMaster, map[string]any{
		"ensure": "present",
	})
	if err != nil {
		return err
	}
	if err := b.cb.Require(pkg.Ref, b.confRef); err != nil {
		return err
	}

	masterContent, err := render("master", map[string]string{
		"ConfDir": b.cfg.ConfDir,
	})
	if err != nil {
		return err
	}
	if err := b.cb.Fragment(ConfTarget, orderMaster, "master", masterContent); err != nil {
		return err
	}

	if b.cfg.Master.AutosignAll {
		if _, err := b.cb.Declare(resources.KindFile, "autosign.conf", map[string]any{
			"path":    filepath.Join(b.cfg.ConfDir, "autosign.conf"),
			"content": "*\n",
			"mode":    "0644",
			"owner":   "root",
			"group":   "root",
		}); err != nil {
			return err
		}
		ref := engine.Ref{Kind: resources.KindFile, Title: "autosign.conf"}
		if err := b.cb.Require(pkg.Ref, ref); err != nil {
			return err
		}
	}

	if b.cfg.Master.Passenger {
		return b.declarePassenger(pkg.Ref)
	}
	return b.declareDaemon(pkg.Ref)
}

// declareDaemon runs the master as its own daemon; it becomes the
// catalog's notify target.
func (b *builder) declareDaemon(masterPkg engine.Ref) error {
	svc, err := b.cb.Declare(resources.KindService, ServiceMaster, map[string]any{
		"ensure":    "running",
		"enable":    true,
		"hasstatus": true,
	})
	if err != nil {
		return err
	}
	if err := b.cb.Require(masterPkg, svc.Ref); err != nil {
		return err
	}
	if err := b.cb.Require(b.confRef, svc.Ref); err != nil {
		return err
	}
	b.notifyTarget = svc.Ref
	return nil
}

// declarePassenger runs the master inside Apache/Passenger. Apache
// becomes the notify target and the direct daemon is kept stopped and
// disabled so it never competes for the port.
func (b *builder) declarePassenger(masterPkg engine.Ref) error {
	apachePkg, err := b.cb.Declare(resources.KindPackage, PackageApache, map[string]any{
		"ensure": "present",
	})
	if err != nil {
		return err
	}
	passengerPkg, err := b.cb.Declare(resources.KindPackage, PackagePassenger, map[string]any{
		"ensure": "present",
	})
	if err != nil {
		return err
	}

	apacheSvc, err := b.cb.Declare(resources.KindService, ServiceApache, map[string]any{
		"ensure": "running",
		"enable": true,
	})
	if err != nil {
		return err
	}

	daemonSvc, err := b.cb.Declare(resources.KindService, ServiceMaster, map[string]any{
		"ensure": "stopped",
		"enable": false,
	})
	if err != nil {
		return err
	}

	for _, dep := range []engine.Ref{masterPkg, apachePkg.Ref, passengerPkg.Ref} {
		if err := b.cb.Require(dep, apacheSvc.Ref); err != nil {
			return err
		}
	}
	if err := b.cb.Require(b.confRef, apacheSvc.Ref); err != nil {
		return err
	}
	// The daemon must be out of the way before Apache claims the port.
	if err := b.cb.Require(daemonSvc.Ref, apacheSvc.Ref); err != nil {
		return err
	}
	if err := b.cb.Require(masterPkg, daemonSvc.Ref); err != nil {
		return err
	}

	b.notifyTarget = apacheSvc.Ref
	return nil
}

// declareStoreConfigs declares the stored-configuration fragment and, in
// full mode, the rails stack plus the database adapter subtree. The
// adapter switch is exhaustive over the parsed union; an unknown adapter
// can never reach this point because configuration parsing rejects it.
func (b *builder) declareStoreConfigs() error {
	sc := b.cfg.StoreConfigs

	data := map[string]string{"Adapter": string(sc.Adapter.Name)}
	if sc.Adapter.Name == config.AdapterMySQL {
		data["DBUser"] = sc.Adapter.MySQL.User
		data["DBPassword"] = sc.Adapter.MySQL.Password
		data["DBServer"] = sc.Adapter.MySQL.Server
		data["DBSocket"] = sc.Adapter.MySQL.Socket
	}
	content, err := render("storeconfigs", data)
	if err != nil {
		return err
	}
	if err := b.cb.Fragment(ConfTarget, orderStoreConfigs, "storeconfigs", content); err != nil {
		return err
	}

	if sc.FragmentOnly {
		return nil
	}

	rails, err := b.cb.Declare(resources.KindPackage, PackageRails, map[string]any{
		"ensure": "present",
	})
	if err != nil {
		return err
	}
	if err := b.cb.Require(rails.Ref, b.notifyTarget); err != nil {
		return err
	}

	switch sc.Adapter.Name {
	case config.AdapterSqlite:
		return b.declareSqlite()
	case config.AdapterMySQL:
		return b.declareMySQL(sc.Adapter.MySQL)
	default:
		return engine.NewBuildError(engine.ErrCodeInternal,
			fmt.Sprintf("adapter %q passed parsing but has no subtree", sc.Adapter.Name), nil)
	}
}

func (b *builder) declareSqlite() error {
	for _, name := range []string{PackageSqlite, PackageRubySqlite} {
		pkg, err := b.cb.Declare(resources.KindPackage, name, map[string]any{
			"ensure": "present",
		})
		if err != nil {
			return err
		}
		if err := b.cb.Require(pkg.Ref, b.notifyTarget); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) declareMySQL(opts *config.MySQLOptions) error {
	server, err := b.cb.Declare(resources.KindPackage, PackageMySQLServer, map[string]any{
		"ensure": "present",
	})
	if err != nil {
		return err
	}
	binding, err := b.cb.Declare(resources.KindPackage, PackageRubyMySQL, map[string]any{
		"ensure": "present",
	})
	if err != nil {
		return err
	}

	mysqlSvc, err := b.cb.Declare(resources.KindService, "mysql", map[string]any{
		"ensure": "running",
		"enable": true,
	})
	if err != nil {
		return err
	}
	if err := b.cb.Require(server.Ref, mysqlSvc.Ref); err != nil {
		return err
	}

	// Create the puppet database once; the unless guard keeps the exec
	// idempotent across runs.
	createCmd := fmt.Sprintf(
		"mysql -u%s -p%s -h%s -e 'CREATE DATABASE puppet'",
		opts.User, opts.Password, opts.Server)
	guard := fmt.Sprintf(
		"mysql -u%s -p%s -h%s -e 'SHOW DATABASES' | grep -q '^puppet$'",
		opts.User, opts.Password, opts.Server)
	createDB, err := b.cb.Declare(resources.KindExec, "create-puppet-db", map[string]any{
		"command": createCmd,
		"unless":  guard,
	})
	if err != nil {
		return err
	}
	if err := b.cb.Require(mysqlSvc.Ref, createDB.Ref); err != nil {
		return err
	}

	for _, dep := range []engine.Ref{binding.Ref, createDB.Ref} {
		if err := b.cb.Require(dep, b.notifyTarget); err != nil {
			return err
		}
	}
	return nil
}
