// Command catenp extracts data from CATE archives.
package main

func main() {
	Execute()
}
