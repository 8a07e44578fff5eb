package steps

import (
	"context"
	"path/filepath"
	"testing"

	"rockinit/internal/sysexec/sysexectest"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) seedConf() {
	for _, name := range []string{"django-hack.py", "smartdb.sql.in", "storageadmin.sql.in", "postgresql.conf", "pg_hba.conf"} {
		f.write(f.conf(name), name+"\n")
	}
}

func TestBootstrapDatabase_Sequence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedConf()
	f.executable(f.cfg().Binaries.PostgresSetup)
	pgdata := f.cfg().Paths.PgData
	f.write(filepath.Join(pgdata, "PG_VERSION"), "9\n")
	ctx := context.Background()

	done, err := f.host.DatabaseBootstrapped(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	changed, err := f.host.BootstrapDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	done, err = f.host.DatabaseBootstrapped(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "django-hack.py\n", f.read(f.cfg().Binaries.Django))
	assert.False(t, exists(filepath.Join(pgdata, "PG_VERSION")), "data directory reset")

	argv := f.runner.Argv()
	require.Len(t, argv, 12)
	joined := f.runner.Calls()
	assert.Equal(t, "/usr/bin/systemctl enable postgresql", joined[0])
	assert.Equal(t, f.cfg().Binaries.PostgresSetup+" initdb", joined[1])
	assert.Equal(t, "/usr/bin/systemctl restart postgresql", joined[2])
	assert.Equal(t, "/usr/bin/systemctl status postgresql", joined[3])
	assert.Equal(t, []string{"su", "-", "postgres", "-c", "/usr/bin/createdb smartdb"}, argv[4])
	assert.Equal(t, []string{"su", "-", "postgres", "-c", "/usr/bin/createdb storageadmin"}, argv[5])

	role, err := shellquote.Split(argv[6][4])
	require.NoError(t, err)
	assert.Equal(t, []string{"psql", "-c", "CREATE ROLE rocky WITH SUPERUSER LOGIN PASSWORD 'rocky'"}, role)

	seed, err := shellquote.Split(argv[7][4])
	require.NoError(t, err)
	assert.Equal(t, []string{"psql", "smartdb", "-f", f.conf("smartdb.sql.in")}, seed)

	assert.Equal(t, "cp -f "+f.conf("postgresql.conf")+" "+pgdata+"/", joined[9])
	assert.Equal(t, "cp -f "+f.conf("pg_hba.conf")+" "+pgdata+"/", joined[10])
	assert.Equal(t, "/usr/bin/systemctl restart postgresql", joined[11])
}

func TestInitDBCommand_Probe(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	b := f.cfg().Binaries

	_, err := f.host.InitDBCommand()
	require.ErrorContains(t, err, "no database initialisation tool")

	f.executable(b.InitDB)
	argv, err := f.host.InitDBCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"su", "-", "postgres", "-c", b.InitDB + " -D " + f.cfg().Paths.PgData}, argv)

	f.executable(b.PostgresSetup)
	argv, err = f.host.InitDBCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{b.PostgresSetup, "initdb"}, argv)
}

func TestBootstrapDatabase_NoInitToolLeavesStampAbsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedConf()

	_, err := f.host.BootstrapDatabase(context.Background())
	require.Error(t, err)
	assert.False(t, exists(f.cfg().Paths.Stamp))
	assert.Equal(t, []string{"/usr/bin/systemctl enable postgresql"}, f.runner.Calls())
}

func TestBootstrapDatabase_RerunAfterFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedConf()
	f.executable(f.cfg().Binaries.PostgresSetup)
	f.runner.On("su - postgres -c /usr/bin/createdb storageadmin", sysexectest.Response{
		ExitCode: 1,
		Stderr:   []string{`createdb: database creation failed: ERROR:  database "storageadmin" already exists`},
	})
	ctx := context.Background()

	_, err := f.host.BootstrapDatabase(ctx)
	require.ErrorContains(t, err, "already exists")
	assert.False(t, exists(f.cfg().Paths.Stamp), "stamp is written last")

	f.runner.On("su - postgres -c /usr/bin/createdb", sysexectest.Response{})
	f.runner.Reset()
	changed, err := f.host.BootstrapDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, exists(f.cfg().Paths.Stamp))
	assert.Equal(t, "/usr/bin/systemctl enable postgresql", f.runner.Calls()[0], "whole block redone")
}
