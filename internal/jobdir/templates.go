package jobdir

import (
	"strings"
	"text/template"
)

// Template selects one of the two job script layouts.
type Template int

const (
	// MasterTemplate prepares geometry and dark average, links them into
	// the child directories, then runs the pipeline.
	MasterTemplate Template = iota
	// ChildTemplate waits for the dark average the master links in, then
	// runs the pipeline.
	ChildTemplate
)

func (t Template) String() string {
	if t == MasterTemplate {
		return "master"
	}
	return "child"
}

// ScriptParams are the values substituted into a job script.
type ScriptParams struct {
	RunID        string // six-digit run number
	RunName      string // job directory name
	QueueName    string
	ClenMeters   float64
	Subjobs      []string // child suffixes linked by the master
	MaxI         int
	Station      int
	Arguments    string
	CrystFELArgs string

	IniFile         string
	DarkWaitTries   int
	RunInfoCommand  string
	Beamline        int
	SetupScript     string
	CheetahPath     string
	IndexamajigPath string
	ScriptPath      string
}

const pipelineTail = `
{{.CheetahPath}}/cheetah-sacla-api2 --ini {{.IniFile}} --run {{.RunID}} --stride 2 -m {{.MaxI}} --station {{.Station}} -o run{{.RunName}}.h5 {{.Arguments}}

# th 100 gr 5000000 for > 10 keV
{{.IndexamajigPath}}/indexamajig -g {{.RunName}}.geom --indexing=dirax-raw --peaks=zaef --threshold=400 --min-gradient=10000 --min-snr=5 --int-radius=3,4,7 -o {{.RunName}}.stream -j 12 -i - {{.CrystFELArgs}} <<EOF
run{{.RunName}}.h5
EOF
grep Cell {{.RunName}}.stream | wc -l > indexed.cnt
ruby {{.ScriptPath}}/parse_stream.rb < {{.RunName}}.stream > {{.RunName}}.csv
`

const header = `#!/bin/bash
#PBS -l nodes=1:ppn=12
#PBS -e cheetah.stderr
#PBS -o cheetah.stdout
#PBS -N {{.RunName}}
#PBS -q {{.QueueName}}
`

const masterScript = header + `# Usage: qsub -d . run.sh

# Master job for {{.RunID}}. Child jobs are submitted separately.

echo $PBS_JOBID > job.id
echo run{{.RunID}}.h5 > file.lst
source {{.SetupScript}}
{{.RunInfoCommand}} -b {{.Beamline}} -r {{.RunID}} > run.info
{{.CheetahPath}}/prepare-cheetah-sacla-api2 {{.RunID}}
sed -i 's/clen.*/clen = {{.ClenMeters}}; You SHOULD optimize this!/' {{.RunID}}.geom
ln -s {{.RunID}}-geom.h5 sacla-geom.h5
ln -s {{.RunID}}-dark.h5 sacla-dark.h5
ln -s {{.RunID}}.geom {{.RunName}}.geom

for i in {{join .Subjobs " "}}; do
   ln -s ../{{.RunName}}/{{.RunID}}-geom.h5 ../{{.RunID}}-$i/sacla-geom.h5
   ln -s ../{{.RunName}}/{{.RunID}}-dark.h5 ../{{.RunID}}-$i/sacla-dark.h5
   ln -s ../{{.RunName}}/{{.RunID}}.geom ../{{.RunID}}-$i/{{.RunID}}-$i.geom
   ln -s ../{{.RunName}}/run.info ../{{.RunID}}-$i/run.info
done
` + pipelineTail

const childScript = header + `
echo $PBS_JOBID > job.id
echo run{{.RunID}}.h5 > file.lst
source {{.SetupScript}}

i=0
while :; do
   let i=i+1
   if [ -e sacla-dark.h5 ]; then
      break
   fi
   if [ $i -gt {{.DarkWaitTries}} ]; then
      echo "Status: Status=Error-TimeoutWaitingDarkAverage" > status.txt
      exit 1
   fi

   sleep 1
done
` + pipelineTail

var funcs = template.FuncMap{"join": strings.Join}

var scripts = map[Template]*template.Template{
	MasterTemplate: template.Must(template.New("master").Funcs(funcs).Parse(masterScript)),
	ChildTemplate:  template.Must(template.New("child").Funcs(funcs).Parse(childScript)),
}
