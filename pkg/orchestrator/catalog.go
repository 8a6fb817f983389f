package orchestrator

import (
	"github.com/devlab-sh/devlab/pkg/selection"
)

// ServiceSpec describes how one selectable service is provisioned: the host
// packages it needs, the source tree it is built from, the database it owns,
// the daemon the supervisor starts, and the port its readiness gate probes.
type ServiceSpec struct {
	// Token is the selection token this spec belongs to.
	Token selection.Token

	// Packages are host packages installed during the packages stage.
	Packages []string

	// ClientPackages are CLI client packages installed during the clients
	// stage.
	ClientPackages []string

	// Repo is the source repository cloned during the source stage. Empty
	// for services delivered purely by host packages.
	Repo string

	// Database is the relational database recreated for this service. Empty
	// when the service owns no database.
	Database string

	// Daemon is the command the supervisor spawns. Empty for backing
	// services managed by the init system and for brokerless transports.
	Daemon string

	// Args are passed to Daemon.
	Args []string

	// SystemUnit is the init-system unit started for backing services that
	// are not supervised tasks (database servers, message brokers).
	SystemUnit string

	// Port is probed by the readiness gate after start. Zero means the
	// service exposes no network endpoint to gate on.
	Port int

	// SeedArgs, when set, is the command run during the seed stage to load
	// example data into the service.
	SeedArgs []string
}

// Catalog returns the provisioning spec for every selectable service, keyed
// by token. The catalog is static; the resolved selection decides which
// entries each stage acts on.
func Catalog() map[selection.Token]ServiceSpec {
	return map[selection.Token]ServiceSpec{
		selection.TokenIdentity: {
			Token:          selection.TokenIdentity,
			Packages:       []string{"devlab-identity"},
			ClientPackages: []string{"devlab-client"},
			Repo:           "https://git.devlab.sh/devlab/identity",
			Database:       "identity",
			Daemon:         "devlab-identityd",
			Port:           5000,
		},
		selection.TokenImage: {
			Token:          selection.TokenImage,
			Packages:       []string{"devlab-image", "qemu-utils"},
			ClientPackages: []string{"devlab-client"},
			Repo:           "https://git.devlab.sh/devlab/image",
			Database:       "image",
			Daemon:         "devlab-imaged",
			Port:           9292,
			SeedArgs:       []string{"devlab-image-import", "--name", "cirros", "/usr/share/devlab/seed/cirros.img"},
		},
		selection.TokenCompute: {
			Token:          selection.TokenCompute,
			Packages:       []string{"devlab-compute", "qemu-kvm", "libvirt-daemon-system"},
			ClientPackages: []string{"devlab-client"},
			Repo:           "https://git.devlab.sh/devlab/compute",
			Database:       "compute",
			Daemon:         "devlab-computed",
			Port:           8774,
		},
		selection.TokenNetwork: {
			Token:          selection.TokenNetwork,
			Packages:       []string{"devlab-network", "dnsmasq"},
			ClientPackages: []string{"devlab-client"},
			Repo:           "https://git.devlab.sh/devlab/network",
			Database:       "network",
			Daemon:         "devlab-networkd",
			Port:           9696,
		},
		selection.TokenBlock: {
			Token:          selection.TokenBlock,
			Packages:       []string{"devlab-block", "lvm2"},
			ClientPackages: []string{"devlab-client"},
			Repo:           "https://git.devlab.sh/devlab/block",
			Database:       "block",
			Daemon:         "devlab-blockd",
			Port:           8776,
		},
		selection.TokenObject: {
			Token:          selection.TokenObject,
			Packages:       []string{"devlab-object", "xfsprogs"},
			ClientPackages: []string{"devlab-client"},
			Repo:           "https://git.devlab.sh/devlab/object",
			Daemon:         "devlab-objectd",
			Port:           8080,
		},
		selection.TokenDashboard: {
			Token:    selection.TokenDashboard,
			Packages: []string{"devlab-dashboard"},
			Repo:     "https://git.devlab.sh/devlab/dashboard",
			Daemon:   "devlab-dashd",
			Port:     80,
		},
		selection.TokenMySQL: {
			Token:      selection.TokenMySQL,
			Packages:   []string{"mysql-server"},
			SystemUnit: "mysql",
			Port:       3306,
		},
		selection.TokenPostgres: {
			Token:      selection.TokenPostgres,
			Packages:   []string{"postgresql"},
			SystemUnit: "postgresql",
			Port:       5432,
		},
		selection.TokenRabbit: {
			Token:      selection.TokenRabbit,
			Packages:   []string{"rabbitmq-server"},
			SystemUnit: "rabbitmq-server",
			Port:       5672,
		},
		selection.TokenQpid: {
			Token:      selection.TokenQpid,
			Packages:   []string{"qpidd"},
			SystemUnit: "qpidd",
			Port:       5672,
		},
		// zeromq is brokerless: packages only, no daemon, no gate.
		selection.TokenZeroMQ: {
			Token:    selection.TokenZeroMQ,
			Packages: []string{"libzmq5"},
		},
		selection.TokenSeed: {
			Token: selection.TokenSeed,
		},
	}
}

// enabledSpecs returns catalog entries for enabled tokens in a stable order.
func enabledSpecs(set *selection.SelectionSet) []ServiceSpec {
	catalog := Catalog()
	specs := make([]ServiceSpec, 0, set.Len())
	for _, token := range set.Tokens() {
		if spec, ok := catalog[token]; ok {
			specs = append(specs, spec)
		}
	}
	return specs
}
