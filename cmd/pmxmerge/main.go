package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/binzume/pmxmerge/converter"
	"github.com/binzume/pmxmerge/merge"
	"github.com/binzume/pmxmerge/pmx"
	"github.com/binzume/pmxmerge/texture"
)

func loadConfig(path string) (*merge.Config, error) {
	if path == "" {
		return &merge.Config{}, nil
	}
	return merge.LoadConfig(path)
}

func printInfo(input string, checkTextures bool) error {
	m, err := pmx.Load(input)
	if err != nil {
		return err
	}
	fmt.Println(m.Summary())
	if pmx.Verbose {
		merge.ReportEmptyMorphs(m)
	}
	if checkTextures {
		reportTextures(m)
	}
	return nil
}

func reportTextures(m *pmx.Model) int {
	missing := 0
	for _, s := range texture.Check(m, filepath.Dir(m.Path)) {
		if !s.OK() {
			missing++
			log.Println("WARNING: texture", s)
		} else if pmx.Verbose {
			log.Println("texture", s)
		}
	}
	return missing
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] base.pmx patch.pmx [output.pmx]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -info model.pmx\n", os.Args[0])
		flag.PrintDefaults()
	}
	appendCats := flag.String("append", "", "categories to append (MATERIAL,BONE,MORPH,PHYSICS,DISPLAY)")
	updateCats := flag.String("update", "", "categories to update (MAT_GEOM,MAT_SETTING,BONE_LOC,BONE_SETTING,MORPH,PHYSICS,DISPLAY)")
	confFile := flag.String("config", "", "merge options file (.yaml)")
	overwrite := flag.Bool("overwrite", false, "overwrite the base model")
	preview := flag.String("preview", "", "write a .glb preview of the result")
	rot180 := flag.Bool("rot180", false, "rotate the preview 180 degrees around Y")
	checkTextures := flag.Bool("checktex", false, "check textures of the result")
	info := flag.Bool("info", false, "print model summary")
	verbose := flag.Bool("v", false, "verbose")
	flag.Parse()

	pmx.Verbose = *verbose
	if *info {
		if flag.NArg() == 0 {
			flag.Usage()
			return
		}
		for _, input := range flag.Args() {
			if err := printInfo(input, *checkTextures); err != nil {
				log.Fatal(err)
			}
		}
		return
	}

	if flag.NArg() < 2 {
		flag.Usage()
		return
	}

	conf, err := loadConfig(*confFile)
	if err != nil {
		log.Fatal(err)
	}
	opts, err := conf.Options()
	if err != nil {
		log.Fatal(err)
	}
	// flags take precedence over the options file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "append":
			opts.Append, err = merge.ParseCategories(*appendCats)
		case "update":
			opts.Update, err = merge.ParseCategories(*updateCats)
		case "overwrite":
			conf.Overwrite = *overwrite
		case "preview":
			conf.Preview = *preview
		case "checktex":
			conf.CheckTextures = *checkTextures
		}
		if err != nil {
			log.Fatal(err)
		}
	})

	base := flag.Arg(0)
	patch := flag.Arg(1)
	output := flag.Arg(2)
	if output == "" {
		if conf.Overwrite {
			output = base
		} else {
			output = merge.PatchedPath(base)
		}
	}

	output, err = merge.MergeFiles(base, patch, output, opts)
	if err != nil {
		log.Fatal(err)
	}
	log.Print("out: ", output)

	if conf.Preview == "" && !conf.CheckTextures {
		return
	}
	result, err := pmx.Load(output)
	if err != nil {
		log.Fatal(err)
	}
	if conf.CheckTextures {
		if n := reportTextures(result); n > 0 {
			log.Printf("%d textures could not be loaded.", n)
		}
	}
	if conf.Preview != "" {
		if err := converter.SaveGLB(result, conf.Preview, &converter.PMXToGLTFOption{Rot180: *rot180}); err != nil {
			log.Fatal(err)
		}
		log.Print("preview: ", conf.Preview)
	}
}
